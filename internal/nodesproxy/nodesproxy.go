// Package nodesproxy implements NodesProxy (§4.1): a lazy, invalidation-
// driven replica of one world's node set, exposing both index-ordered and
// key-ordered access while nodes are added, updated, or removed remotely.
//
// The background poller and write-through contract are generalized from
// the teacher's single-stop-flag background goroutine pattern
// (internal/topology, cmd/resin/main.go's lifecycle); the pending-id
// bookkeeping generalizes internal/state.DirtySet (see
// internal/pendingqueue) from an operation-tagged set to an order-
// preserving queue, since extend-by-one and the read algorithm are
// order-sensitive in a way a plain dirty set is not.
package nodesproxy

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/model"
	"github.com/uwrobotics/underworlds/internal/pendingqueue"
	"github.com/uwrobotics/underworlds/internal/rpc"
	"github.com/uwrobotics/underworlds/internal/uwerrors"
)

// NodesProxy is a lazy replica of a world's node set, backed by a remote
// rpc.Stub. See package doc and spec §4.1 for the full contract.
type NodesProxy struct {
	clientID  string
	worldName string
	stub      rpc.Stub
	tuneables config.Tuneables

	// cache maps node id to its last-known value. Concurrent reads from
	// user goroutines and writes from the background poller's fetch
	// results don't contend on a single coarse lock for the common case
	// of a node that's already warm.
	cache *xsync.Map[string, model.Node]

	// mu guards knownIDs/knownSet/length/rootID: fields whose invariants
	// span multiple values and must move together.
	mu       sync.Mutex
	cond     *sync.Cond
	knownIDs []string
	knownSet map[string]struct{}
	length   int
	rootID   string
	changeGen uint64

	pendingUpdates *pendingqueue.Queue[string]
	pendingDeletes *pendingqueue.Queue[string]

	// selfPropagating is reserved for an optimization that suppresses a
	// redundant re-fetch of a node the client itself just wrote. It is
	// never required for correctness and its presence must never change
	// observable semantics (§4.1, §9).
	selfPropagating sync.Map

	running atomic.Bool
	done    chan struct{}
}

// New constructs a NodesProxy for (clientID, worldName) against stub,
// fetches the initial length/id set/root id, and starts the background
// invalidation poller. It blocks on those initial RPCs, mirroring the
// original constructor's synchronous bootstrap.
func New(ctx context.Context, stub rpc.Stub, clientID, worldName string, tuneables config.Tuneables) (*NodesProxy, error) {
	p := &NodesProxy{
		clientID:       clientID,
		worldName:      worldName,
		stub:           stub,
		tuneables:      tuneables,
		cache:          xsync.NewMap[string, model.Node](),
		knownSet:       make(map[string]struct{}),
		pendingUpdates: pendingqueue.New[string](),
		pendingDeletes: pendingqueue.New[string](),
		done:           make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	cw := p.clientWorld()

	rctx, cancel := p.rpcContext(ctx)
	length, err := stub.GetNodesLen(rctx, cw)
	cancel()
	if err != nil {
		return nil, &uwerrors.TransportFailure{Op: "getNodesLen", Err: err}
	}
	p.length = length

	rctx, cancel = p.rpcContext(ctx)
	ids, err := stub.GetNodesIDs(rctx, cw)
	cancel()
	if err != nil {
		return nil, &uwerrors.TransportFailure{Op: "getNodesIds", Err: err}
	}
	// The initial id set is reported stale: every id goes straight into
	// pendingUpdates, to be fetched lazily as the user materializes
	// positions (extend-by-one) or looks them up by key.
	for _, id := range ids {
		p.pendingUpdates.PushBack(id)
	}

	rctx, cancel = p.rpcContext(ctx)
	rootID, err := stub.GetRootNode(rctx, cw)
	cancel()
	if err != nil {
		return nil, &uwerrors.TransportFailure{Op: "getRootNode", Err: err}
	}
	p.rootID = rootID

	// Root is fetched and materialized eagerly so RootID() is always
	// available without requiring the caller to materialize it by index
	// first (§4.1 invariant: rootId ∈ knownIds always after construction).
	if _, err := p.Get(ctx, rootID); err != nil {
		return nil, err
	}

	p.running.Store(true)
	go p.run()

	return p, nil
}

// RootID returns the id of the world's root node.
func (p *NodesProxy) RootID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rootID
}

// Length returns the current known size, maintained by invalidation
// deltas (+1 on NEW, -1 on DELETE).
func (p *NodesProxy) Length() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length
}

func (p *NodesProxy) clientWorld() rpc.ClientWorld {
	return rpc.ClientWorld{ClientID: p.clientID, WorldName: p.worldName}
}

func (p *NodesProxy) rpcContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, p.tuneables.RPCDeadline.Std())
}

// GetByIndex resolves position i. If i is at or past Length(), it fails
// with IndexOutOfRangeError. Otherwise it ensures at least i+1 ids are
// known locally (materializing more via extend-by-one as needed) before
// resolving through the id path, refreshing the node if it is currently
// marked updated.
func (p *NodesProxy) GetByIndex(ctx context.Context, i int) (model.Node, error) {
	p.applyPendingDeletes()

	p.mu.Lock()
	length := p.length
	p.mu.Unlock()
	if i >= length {
		return model.Node{}, &uwerrors.IndexOutOfRangeError{Index: i, Length: length}
	}

	for {
		p.mu.Lock()
		n := len(p.knownIDs)
		p.mu.Unlock()
		if i < n {
			break
		}
		if err := p.extendByOne(ctx); err != nil {
			return model.Node{}, err
		}
	}

	p.mu.Lock()
	id := p.knownIDs[i]
	p.mu.Unlock()

	return p.Get(ctx, id)
}

// Get resolves node id. If it is in pendingUpdates it is refreshed from
// the server first. If it is absent from the cache entirely it is
// fetched; a server "not found" becomes UnknownKeyError.
func (p *NodesProxy) Get(ctx context.Context, id string) (model.Node, error) {
	p.applyPendingDeletes()

	if p.pendingUpdates.Has(id) {
		node, err := p.fetchFromServer(ctx, id)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				p.pendingUpdates.Remove(id)
				return model.Node{}, &uwerrors.UnknownKeyError{Key: id}
			}
			return model.Node{}, err
		}
		p.cache.Store(id, node)
		p.pendingUpdates.Remove(id)
		p.markKnown(id)
		return node, nil
	}

	if node, ok := p.cache.Load(id); ok {
		return node, nil
	}

	node, err := p.fetchFromServer(ctx, id)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return model.Node{}, &uwerrors.UnknownKeyError{Key: id}
		}
		return model.Node{}, err
	}
	p.cache.Store(id, node)
	p.markKnown(id)
	return node, nil
}

// markKnown appends id to knownIDs the first time it is seen, giving it a
// stable position. Once assigned, a position never changes except by a
// lower-indexed id being removed (which shifts everything above it down,
// handled naturally by slice deletion in applyPendingDeletes).
func (p *NodesProxy) markKnown(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.knownSet[id]; ok {
		return
	}
	p.knownSet[id] = struct{}{}
	p.knownIDs = append(p.knownIDs, id)
}

// extendByOne materializes one more position in knownIds by consuming a
// pending invalidation. If pendingUpdates is empty, it waits a short
// grace period for one to arrive; if it is still empty, propagation is
// pathologically late or broken and InconsistentState is returned.
func (p *NodesProxy) extendByOne(ctx context.Context) error {
	id, ok := p.pendingUpdates.PopBack()
	if !ok {
		log.Printf("[nodesproxy] world=%s slow propagation? waiting for new/updated node notifications", p.worldName)
		time.Sleep(p.tuneables.ExtendByOneGrace.Std())
		id, ok = p.pendingUpdates.PopBack()
		if !ok {
			log.Printf("[nodesproxy] world=%s inconsistency detected: server has not notified all node updates, or the transport is too slow", p.worldName)
			return uwerrors.InconsistentState
		}
	}

	node, err := p.fetchFromServer(ctx, id)
	if err != nil {
		return err
	}
	p.cache.Store(id, node)
	p.markKnown(id)
	return nil
}

func (p *NodesProxy) fetchFromServer(ctx context.Context, id string) (model.Node, error) {
	rctx, cancel := p.rpcContext(ctx)
	defer cancel()
	wire, err := p.stub.GetNode(rctx, p.clientWorld(), id)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return model.Node{}, rpc.ErrNotFound
		}
		return model.Node{}, &uwerrors.TransportFailure{Op: "getNode", Err: err}
	}
	return model.DeserializeNode(wire), nil
}

// applyPendingDeletes drains pendingDeletes and removes each id from
// knownIds/cache. A duplicate delete of an already-removed id is logged,
// not failed (§7).
func (p *NodesProxy) applyPendingDeletes() {
	ids := p.pendingDeletes.Drain()
	if len(ids) == 0 {
		return
	}

	p.mu.Lock()
	for _, id := range ids {
		if _, ok := p.knownSet[id]; ok {
			delete(p.knownSet, id)
			for i, known := range p.knownIDs {
				if known == id {
					p.knownIDs = append(p.knownIDs[:i], p.knownIDs[i+1:]...)
					break
				}
			}
		} else {
			log.Printf("[nodesproxy] world=%s node %s already removed, feels like a synchro issue", p.worldName, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.cache.Delete(id)
	}
}

// Update sends node to the server (write-through upsert). The local
// cache is untouched; reads after this call are not guaranteed to
// reflect the write until the matching invalidation arrives (typically a
// few ms).
func (p *NodesProxy) Update(ctx context.Context, node model.Node) error {
	rctx, cancel := p.rpcContext(ctx)
	defer cancel()
	if err := p.stub.UpdateNode(rctx, p.clientWorld(), node.Serialize()); err != nil {
		return &uwerrors.TransportFailure{Op: "updateNode", Err: err}
	}
	p.selfPropagating.Store(node.ID, struct{}{})
	return nil
}

// Append is an alias for Update: adding a new node and updating an
// existing one are the same write-through operation.
func (p *NodesProxy) Append(ctx context.Context, node model.Node) error {
	return p.Update(ctx, node)
}

// Remove sends a delete request (write-through). Local removal happens
// only when the matching invalidation arrives.
func (p *NodesProxy) Remove(ctx context.Context, node model.Node) error {
	rctx, cancel := p.rpcContext(ctx)
	defer cancel()
	if err := p.stub.DeleteNode(rctx, p.clientWorld(), node.Serialize()); err != nil {
		return &uwerrors.TransportFailure{Op: "deleteNode", Err: err}
	}
	return nil
}

// WaitForChanges blocks until any invalidation (new, updated, or deleted
// node) has been applied, or timeout elapses. A non-positive timeout
// blocks indefinitely. Returns whether a change was observed.
func (p *NodesProxy) WaitForChanges(timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	startGen := p.changeGen

	if timeout <= 0 {
		for p.changeGen == startGen {
			p.cond.Wait()
		}
		return true
	}

	deadline := time.Now().Add(timeout)
	for p.changeGen == startGen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
	return true
}

func (p *NodesProxy) notifyChange() {
	p.mu.Lock()
	p.changeGen++
	p.cond.Broadcast()
	p.mu.Unlock()
}

// run is the background invalidation task. It ticks at the configured
// invalidation period, pulling one batch of invalidations per tick and
// applying NEW/UPDATE/DELETE to the pending queues and length counter.
func (p *NodesProxy) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.tuneables.InvalidationPeriod.Std())
	defer ticker.Stop()

	for p.running.Load() {
		<-ticker.C
		if !p.running.Load() {
			return
		}

		rctx, cancel := p.rpcContext(context.Background())
		batch, err := p.stub.GetNodeInvalidations(rctx, p.clientWorld())
		cancel()
		if err != nil {
			log.Printf("[nodesproxy] world=%s getNodeInvalidations failed, will retry next tick: %v", p.worldName, err)
			continue
		}

		for _, inv := range batch {
			switch inv.Action {
			case rpc.NodeUpdate:
				log.Printf("[nodesproxy] world=%s server notification: update node %s", p.worldName, inv.ID)
				p.pendingUpdates.PushBack(inv.ID)
				p.notifyChange()
			case rpc.NodeNew:
				log.Printf("[nodesproxy] world=%s server notification: add node %s", p.worldName, inv.ID)
				p.mu.Lock()
				p.length++
				p.mu.Unlock()
				p.pendingUpdates.PushBack(inv.ID)
				p.notifyChange()
			case rpc.NodeDelete:
				log.Printf("[nodesproxy] world=%s server notification: delete node %s", p.worldName, inv.ID)
				p.mu.Lock()
				p.length--
				p.mu.Unlock()
				p.pendingDeletes.PushBack(inv.ID)
				p.notifyChange()
			default:
				// A malformed action code is fatal to this poller task
				// only, not the process: log it and stop the poller,
				// matching the original's per-thread failure isolation.
				log.Printf("[nodesproxy] world=%s invalidation error, stopping poller: %v", p.worldName, &uwerrors.ProtocolViolation{Action: inv.Action.String()})
				p.running.Store(false)
				return
			}
		}
	}
}

// Close stops the background task and waits for it to exit. Safe to call
// more than once.
func (p *NodesProxy) Close() {
	if p.running.CompareAndSwap(true, false) {
		<-p.done
		return
	}
	// Already stopped (or never started its goroutine's first tick) —
	// still honor idempotent-finalize by waiting if a prior Close is
	// already in flight.
	<-p.done
}
