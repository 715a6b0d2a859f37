// Package worldproxy implements WorldProxy and WorldsProxy (§4.4): the
// per-world pairing of a SceneProxy and a TimelineProxy, and the lazily-
// materializing directory of worlds a Context exposes.
//
// WorldsProxy's background topology sync is grounded on the teacher's
// internal/topology cron-scheduled refresh loop (robfig/cron/v3): the
// same "periodically reconcile local state against the server's view,
// pruning what disappeared" shape, repurposed from service topology to
// world directory membership.
package worldproxy

import (
	"context"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/nodesproxy"
	"github.com/uwrobotics/underworlds/internal/rpc"
	"github.com/uwrobotics/underworlds/internal/sceneproxy"
	"github.com/uwrobotics/underworlds/internal/timelineproxy"
	"github.com/uwrobotics/underworlds/internal/uwerrors"
)

// WorldProxy pairs one world's scene and timeline replicas.
type WorldProxy struct {
	name      string
	clientID  string
	stub      rpc.Stub
	tuneables config.Tuneables

	scene    *sceneproxy.SceneProxy
	timeline *timelineproxy.TimelineProxy
}

func newWorldProxy(ctx context.Context, stub rpc.Stub, clientID, name string, tuneables config.Tuneables) (*WorldProxy, error) {
	nodes, err := nodesproxy.New(ctx, stub, clientID, name, tuneables)
	if err != nil {
		return nil, err
	}
	timeline, err := timelineproxy.New(ctx, stub, clientID, name, tuneables)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	return &WorldProxy{
		name:      name,
		clientID:  clientID,
		stub:      stub,
		tuneables: tuneables,
		scene:     sceneproxy.New(nodes),
		timeline:  timeline,
	}, nil
}

// Name returns the world's name.
func (w *WorldProxy) Name() string { return w.name }

// Scene returns the world's node replica façade.
func (w *WorldProxy) Scene() *sceneproxy.SceneProxy { return w.scene }

// Timeline returns the world's situation replica.
func (w *WorldProxy) Timeline() *timelineproxy.TimelineProxy { return w.timeline }

// CopyFrom asks the server to replace this world's contents with a deep
// copy of fromWorld's. Like every other mutation, this is write-through:
// the local replicas only reflect the copy once their invalidations
// arrive.
func (w *WorldProxy) CopyFrom(ctx context.Context, fromWorld string) error {
	rctx, cancel := context.WithTimeout(ctx, w.tuneables.RPCDeadline.Std())
	defer cancel()
	cw := rpc.ClientWorld{ClientID: w.clientID, WorldName: w.name}
	if err := w.stub.CopyWorld(rctx, cw, fromWorld); err != nil {
		return &uwerrors.TransportFailure{Op: "copyWorld", Err: err}
	}
	return nil
}

// Finalize stops this world's background replication tasks.
func (w *WorldProxy) Finalize() {
	w.scene.Finalize()
	w.timeline.Close()
}

// WorldsProxy is the lazily-materializing directory of worlds a Context
// exposes: a world's SceneProxy/TimelineProxy pair is built on first
// access and cached from then on.
type WorldsProxy struct {
	stub      rpc.Stub
	clientID  string
	tuneables config.Tuneables

	mu     sync.Mutex
	worlds map[string]*WorldProxy

	cron *cron.Cron
}

// New constructs a WorldsProxy. If tuneables.TopologySyncSchedule is
// non-empty, a background cron job periodically reconciles the
// materialized world set against the server's topology, finalizing and
// dropping worlds the server no longer reports.
func New(stub rpc.Stub, clientID string, tuneables config.Tuneables) *WorldsProxy {
	wp := &WorldsProxy{
		stub:      stub,
		clientID:  clientID,
		tuneables: tuneables,
		worlds:    make(map[string]*WorldProxy),
	}

	if tuneables.TopologySyncSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(tuneables.TopologySyncSchedule, wp.syncTopology); err != nil {
			log.Printf("[worldproxy] invalid topology_sync_schedule %q, background sync disabled: %v", tuneables.TopologySyncSchedule, err)
		} else {
			c.Start()
			wp.cron = c
		}
	}

	return wp
}

// Get returns the WorldProxy for name, materializing it on first access.
func (wp *WorldsProxy) Get(ctx context.Context, name string) (*WorldProxy, error) {
	wp.mu.Lock()
	if w, ok := wp.worlds[name]; ok {
		wp.mu.Unlock()
		return w, nil
	}
	wp.mu.Unlock()

	w, err := newWorldProxy(ctx, wp.stub, wp.clientID, name, wp.tuneables)
	if err != nil {
		return nil, err
	}

	wp.mu.Lock()
	if existing, ok := wp.worlds[name]; ok {
		wp.mu.Unlock()
		// Lost a race with a concurrent Get for the same name: keep the
		// winner, tear down the redundant replica we just built.
		w.Finalize()
		return existing, nil
	}
	wp.worlds[name] = w
	wp.mu.Unlock()
	return w, nil
}

// Names returns every world the server currently reports, whether or not
// it has been materialized locally yet.
func (wp *WorldsProxy) Names(ctx context.Context) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, wp.tuneables.RPCDeadline.Std())
	defer cancel()
	topo, err := wp.stub.Topology(rctx)
	if err != nil {
		return nil, &uwerrors.TransportFailure{Op: "topology", Err: err}
	}
	return topo.Worlds, nil
}

// Assign is a deliberate no-op: assigning into the world directory by
// name was never a supported mutation in the original implementation
// either (worlds are only ever created server-side, on first reference
// to their name). Logged so misuse is visible instead of silently
// vanishing.
func (wp *WorldsProxy) Assign(name string, _ *WorldProxy) {
	log.Printf("[worldproxy] ignoring assignment to world %q: worlds are materialized from the server, not set locally", name)
}

func (wp *WorldsProxy) syncTopology() {
	ctx, cancel := context.WithTimeout(context.Background(), wp.tuneables.RPCDeadline.Std())
	defer cancel()

	topo, err := wp.stub.Topology(ctx)
	if err != nil {
		log.Printf("[worldproxy] topology sync failed, will retry next schedule: %v", err)
		return
	}
	known := make(map[string]struct{}, len(topo.Worlds))
	for _, name := range topo.Worlds {
		known[name] = struct{}{}
	}

	var stale []*WorldProxy
	wp.mu.Lock()
	for name, w := range wp.worlds {
		if _, ok := known[name]; !ok {
			stale = append(stale, w)
			delete(wp.worlds, name)
		}
	}
	wp.mu.Unlock()

	for _, w := range stale {
		log.Printf("[worldproxy] world %q no longer reported by the server, finalizing local replica", w.Name())
		w.Finalize()
	}
}

// Finalize stops the background topology sync (if running) and
// finalizes every materialized world.
func (wp *WorldsProxy) Finalize() {
	if wp.cron != nil {
		wp.cron.Stop()
	}

	wp.mu.Lock()
	worlds := make([]*WorldProxy, 0, len(wp.worlds))
	for _, w := range wp.worlds {
		worlds = append(worlds, w)
	}
	wp.worlds = make(map[string]*WorldProxy)
	wp.mu.Unlock()

	for _, w := range worlds {
		w.Finalize()
	}
}
