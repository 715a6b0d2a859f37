// Package fake is a goroutine-safe, in-memory stand-in for rpc.Stub. It
// plays the part of the server well enough to drive every proxy's
// poll/fetch/write-through cycle end to end without a real transport:
// NEW/UPDATE/DELETE and START/EVENT/END invalidations are generated
// exactly as a real server would, fanned out to every (client, world)
// subscriber independently.
//
// Grounded on the teacher's internal/testutil/stub_builder.go pattern: an
// in-memory double satisfying a production interface, built for tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uwrobotics/underworlds/internal/model"
	"github.com/uwrobotics/underworlds/internal/pendingqueue"
	"github.com/uwrobotics/underworlds/internal/rpc"
)

// Clock returns the current time as seconds since epoch. NewServer
// installs a time.Now-based clock; tests can substitute a deterministic
// one with WithClock.
type Clock func() float64

func defaultClock() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Server is an in-memory implementation of rpc.Stub.
type Server struct {
	clock Clock

	mu      sync.Mutex
	clients map[string]string // clientID -> name
	worlds  map[string]*world
	meshes  map[string][]byte
	started time.Time
}

// NewServer creates an empty fake server.
func NewServer() *Server {
	return &Server{
		clock:   defaultClock,
		clients: make(map[string]string),
		worlds:  make(map[string]*world),
		meshes:  make(map[string][]byte),
		started: time.Now(),
	}
}

// WithClock overrides the clock used for last_update/starttime/endtime
// stamping. For use in tests that need deterministic timestamps.
func (s *Server) WithClock(c Clock) *Server {
	s.clock = c
	return s
}

type world struct {
	name string
	root string

	mu        sync.Mutex
	nodes     map[string]model.WireNode
	origin    float64
	sitOrder  []string
	sits      map[string]model.WireSituation
	nodeSubs  map[string]*pendingqueue.Queue[subEntry[rpc.NodeInvalidation]]
	timeSubs  map[string]*pendingqueue.Queue[subEntry[rpc.TimelineInvalidation]]
}

// subEntry wraps an invalidation with a monotonic sequence number so
// pendingqueue.Queue[subEntry[T]] — which dedups by value — never
// collapses two distinct invalidations about the same id (e.g. two
// UPDATEs in a row) into one.
type subEntry[T any] struct {
	seq   uint64
	value T
}

func (s *Server) world(name string) *world {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.worlds[name]
	if ok {
		return w
	}
	root := model.NewRootNode()
	w = &world{
		name:     name,
		root:     root.ID,
		nodes:    map[string]model.WireNode{root.ID: root.Serialize()},
		origin:   s.clockNow(),
		sits:     make(map[string]model.WireSituation),
		nodeSubs: make(map[string]*pendingqueue.Queue[subEntry[rpc.NodeInvalidation]]),
		timeSubs: make(map[string]*pendingqueue.Queue[subEntry[rpc.TimelineInvalidation]]),
	}
	s.worlds[name] = w
	return w
}

func (s *Server) clockNow() float64 {
	if s.clock != nil {
		return s.clock()
	}
	return defaultClock()
}

var nodeSeq, timeSeq struct {
	mu sync.Mutex
	n  uint64
}

func nextNodeSeq() uint64 {
	nodeSeq.mu.Lock()
	defer nodeSeq.mu.Unlock()
	nodeSeq.n++
	return nodeSeq.n
}

func nextTimeSeq() uint64 {
	timeSeq.mu.Lock()
	defer timeSeq.mu.Unlock()
	timeSeq.n++
	return timeSeq.n
}

func (w *world) ensureNodeSub(clientID string) *pendingqueue.Queue[subEntry[rpc.NodeInvalidation]] {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.nodeSubs[clientID]
	if !ok {
		q = pendingqueue.New[subEntry[rpc.NodeInvalidation]]()
		w.nodeSubs[clientID] = q
	}
	return q
}

func (w *world) ensureTimeSub(clientID string) *pendingqueue.Queue[subEntry[rpc.TimelineInvalidation]] {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.timeSubs[clientID]
	if !ok {
		q = pendingqueue.New[subEntry[rpc.TimelineInvalidation]]()
		w.timeSubs[clientID] = q
	}
	return q
}

func (w *world) notifyNode(action rpc.NodeAction, id string) {
	w.mu.Lock()
	subs := make([]*pendingqueue.Queue[subEntry[rpc.NodeInvalidation]], 0, len(w.nodeSubs))
	for _, q := range w.nodeSubs {
		subs = append(subs, q)
	}
	w.mu.Unlock()

	entry := subEntry[rpc.NodeInvalidation]{seq: nextNodeSeq(), value: rpc.NodeInvalidation{Action: action, ID: id}}
	for _, q := range subs {
		q.PushBack(entry)
	}
}

func (w *world) notifyTimeline(action rpc.TimelineAction, id string) {
	w.mu.Lock()
	subs := make([]*pendingqueue.Queue[subEntry[rpc.TimelineInvalidation]], 0, len(w.timeSubs))
	for _, q := range w.timeSubs {
		subs = append(subs, q)
	}
	w.mu.Unlock()

	entry := subEntry[rpc.TimelineInvalidation]{seq: nextTimeSeq(), value: rpc.TimelineInvalidation{Action: action, ID: id}}
	for _, q := range subs {
		q.PushBack(entry)
	}
}

// Hello registers a client and returns a fresh id.
func (s *Server) Hello(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.clients[id] = name
	s.mu.Unlock()
	return id, nil
}

func (s *Server) GetNodesLen(ctx context.Context, cw rpc.ClientWorld) (int, error) {
	w := s.world(cw.WorldName)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.nodes), nil
}

func (s *Server) GetNodesIDs(ctx context.Context, cw rpc.ClientWorld) ([]string, error) {
	w := s.world(cw.WorldName)
	w.ensureNodeSub(cw.ClientID)

	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.nodes))
	for id := range w.nodes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) GetRootNode(ctx context.Context, cw rpc.ClientWorld) (string, error) {
	w := s.world(cw.WorldName)
	return w.root, nil
}

func (s *Server) GetNode(ctx context.Context, cw rpc.ClientWorld, id string) (model.WireNode, error) {
	w := s.world(cw.WorldName)
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[id]
	if !ok {
		return model.WireNode{}, rpc.ErrNotFound
	}
	return n, nil
}

func (s *Server) UpdateNode(ctx context.Context, cw rpc.ClientWorld, node model.WireNode) error {
	w := s.world(cw.WorldName)
	node.LastUpdate = s.clockNow()

	w.mu.Lock()
	_, existed := w.nodes[node.ID]
	w.nodes[node.ID] = node
	w.mu.Unlock()

	if existed {
		w.notifyNode(rpc.NodeUpdate, node.ID)
	} else {
		w.notifyNode(rpc.NodeNew, node.ID)
	}
	return nil
}

func (s *Server) DeleteNode(ctx context.Context, cw rpc.ClientWorld, node model.WireNode) error {
	w := s.world(cw.WorldName)
	w.mu.Lock()
	_, existed := w.nodes[node.ID]
	delete(w.nodes, node.ID)
	w.mu.Unlock()

	if !existed {
		return fmt.Errorf("fake: delete of unknown node %s: %w", node.ID, rpc.ErrNotFound)
	}
	w.notifyNode(rpc.NodeDelete, node.ID)
	return nil
}

func (s *Server) GetNodeInvalidations(ctx context.Context, cw rpc.ClientWorld) ([]rpc.NodeInvalidation, error) {
	w := s.world(cw.WorldName)
	q := w.ensureNodeSub(cw.ClientID)
	entries := q.Drain()
	out := make([]rpc.NodeInvalidation, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}

func (s *Server) TimelineOrigin(ctx context.Context, cw rpc.ClientWorld) (float64, error) {
	w := s.world(cw.WorldName)
	w.ensureTimeSub(cw.ClientID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.origin, nil
}

func (s *Server) GetTimelineInvalidations(ctx context.Context, cw rpc.ClientWorld) ([]rpc.TimelineInvalidation, error) {
	w := s.world(cw.WorldName)
	q := w.ensureTimeSub(cw.ClientID)
	entries := q.Drain()
	out := make([]rpc.TimelineInvalidation, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}

func (s *Server) GetSituation(ctx context.Context, cw rpc.ClientWorld, id string) (model.WireSituation, error) {
	w := s.world(cw.WorldName)
	w.mu.Lock()
	defer w.mu.Unlock()
	sit, ok := w.sits[id]
	if !ok {
		return model.WireSituation{}, rpc.ErrNotFound
	}
	return sit, nil
}

func (s *Server) StartSituation(ctx context.Context, cw rpc.ClientWorld, sit model.WireSituation) error {
	w := s.world(cw.WorldName)
	now := s.clockNow()
	sit.StartTime = &now

	w.mu.Lock()
	w.sits[sit.ID] = sit
	w.sitOrder = append(w.sitOrder, sit.ID)
	w.mu.Unlock()

	w.notifyTimeline(rpc.TimelineStart, sit.ID)
	return nil
}

func (s *Server) EventSituation(ctx context.Context, cw rpc.ClientWorld, sit model.WireSituation) error {
	w := s.world(cw.WorldName)
	now := s.clockNow()
	sit.StartTime = &now
	sit.EndTime = &now

	w.mu.Lock()
	w.sits[sit.ID] = sit
	w.sitOrder = append(w.sitOrder, sit.ID)
	w.mu.Unlock()

	w.notifyTimeline(rpc.TimelineEvent, sit.ID)
	return nil
}

func (s *Server) EndSituation(ctx context.Context, cw rpc.ClientWorld, situationID string) error {
	w := s.world(cw.WorldName)
	now := s.clockNow()

	w.mu.Lock()
	sit, ok := w.sits[situationID]
	if ok {
		sit.EndTime = &now
		w.sits[situationID] = sit
	}
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("fake: end of unknown situation %s: %w", situationID, rpc.ErrNotFound)
	}
	w.notifyTimeline(rpc.TimelineEnd, situationID)
	return nil
}

func (s *Server) CopyWorld(ctx context.Context, cw rpc.ClientWorld, fromWorld string) error {
	src := s.world(fromWorld)
	dst := s.world(cw.WorldName)

	src.mu.Lock()
	nodesCopy := make(map[string]model.WireNode, len(src.nodes))
	for id, n := range src.nodes {
		nodesCopy[id] = n
	}
	root := src.root
	sitsCopy := make(map[string]model.WireSituation, len(src.sits))
	for id, sit := range src.sits {
		sitsCopy[id] = sit
	}
	sitOrderCopy := append([]string(nil), src.sitOrder...)
	src.mu.Unlock()

	dst.mu.Lock()
	dst.nodes = nodesCopy
	dst.root = root
	dst.sits = sitsCopy
	dst.sitOrder = sitOrderCopy
	dst.mu.Unlock()

	for id := range nodesCopy {
		dst.notifyNode(rpc.NodeNew, id)
	}
	for _, id := range sitOrderCopy {
		dst.notifyTimeline(rpc.TimelineStart, id)
	}
	return nil
}

func (s *Server) Topology(ctx context.Context) (rpc.Topology, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make(map[string]map[string]rpc.ClientLink, len(s.clients))
	for id, name := range s.clients {
		clients[name] = map[string]rpc.ClientLink{}
		for worldName, w := range s.worlds {
			w.mu.Lock()
			_, subscribed := w.nodeSubs[id]
			w.mu.Unlock()
			if subscribed {
				clients[name][worldName] = rpc.ClientLink{LinkType: "READER", LastActivity: s.clockNow()}
			}
		}
	}

	worlds := make([]string, 0, len(s.worlds))
	for name := range s.worlds {
		worlds = append(worlds, name)
	}

	return rpc.Topology{Clients: clients, Worlds: worlds}, nil
}

func (s *Server) Uptime(ctx context.Context) (float64, error) {
	return time.Since(s.started).Seconds(), nil
}

func (s *Server) PushMesh(ctx context.Context, id string, data []byte) error {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.meshes[id] = cp
	s.mu.Unlock()
	return nil
}

func (s *Server) Mesh(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.meshes[id]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Server) HasMesh(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.meshes[id]
	return ok, nil
}

// DeleteMesh removes a mesh blob, as if the server evicted or forgot it
// independently of any client. Test-only: the Stub interface has no
// delete-mesh operation since mesh lifecycle is server-managed.
func (s *Server) DeleteMesh(id string) {
	s.mu.Lock()
	delete(s.meshes, id)
	s.mu.Unlock()
}

var _ rpc.Stub = (*Server)(nil)
