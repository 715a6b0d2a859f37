// Package uwcontext implements Context (§4.5): the single entry point a
// client program holds, owning the registered client id, the world
// directory, and the mesh cache, and guaranteeing an orderly shutdown of
// every background task it started.
package uwcontext

import (
	"context"
	"errors"
	"sync"

	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/meshcache"
	"github.com/uwrobotics/underworlds/internal/rpc"
	"github.com/uwrobotics/underworlds/internal/uwerrors"
	"github.com/uwrobotics/underworlds/internal/worldproxy"
)

// Context is a client's handle onto the underworlds server: one Hello
// registration, one world directory, one mesh cache.
type Context struct {
	name      string
	clientID  string
	stub      rpc.Stub
	tuneables config.Tuneables

	worlds *worldproxy.WorldsProxy
	meshes *meshcache.Cache

	closeOnce sync.Once
}

// Open registers name with stub, then constructs the world directory and
// mesh cache. The returned Context must eventually be Closed.
func Open(ctx context.Context, stub rpc.Stub, name string, tuneables config.Tuneables) (*Context, error) {
	clientID, err := stub.Hello(ctx, name)
	if err != nil {
		return nil, &uwerrors.TransportFailure{Op: "hello", Err: err}
	}

	meshes, err := meshcache.New(tuneables.MeshCacheMaxEntries)
	if err != nil {
		return nil, err
	}

	return &Context{
		name:      name,
		clientID:  clientID,
		stub:      stub,
		tuneables: tuneables,
		worlds:    worldproxy.New(stub, clientID, tuneables),
		meshes:    meshes,
	}, nil
}

// Use opens a Context, runs fn, and closes the Context unconditionally
// before returning — the scoped-acquisition pattern for callers that
// don't want to reason about cleanup on every error path themselves.
func Use(ctx context.Context, stub rpc.Stub, name string, tuneables config.Tuneables, fn func(*Context) error) error {
	c, err := Open(ctx, stub, name, tuneables)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// ClientID returns the id the server assigned this client at Hello time.
func (c *Context) ClientID() string { return c.clientID }

// Worlds returns the world directory.
func (c *Context) Worlds() *worldproxy.WorldsProxy { return c.worlds }

// Topology returns the server's current client/world directory.
func (c *Context) Topology(ctx context.Context) (rpc.Topology, error) {
	rctx, cancel := context.WithTimeout(ctx, c.tuneables.RPCDeadline.Std())
	defer cancel()
	topo, err := c.stub.Topology(rctx)
	if err != nil {
		return rpc.Topology{}, &uwerrors.TransportFailure{Op: "topology", Err: err}
	}
	return topo, nil
}

// Uptime returns the server's reported uptime in seconds.
func (c *Context) Uptime(ctx context.Context) (float64, error) {
	rctx, cancel := context.WithTimeout(ctx, c.tuneables.RPCDeadline.Std())
	defer cancel()
	seconds, err := c.stub.Uptime(rctx)
	if err != nil {
		return 0, &uwerrors.TransportFailure{Op: "uptime", Err: err}
	}
	return seconds, nil
}

// PushMesh uploads a mesh blob, skipping the round trip to the server
// entirely if an identical blob is already known to be cached under id.
func (c *Context) PushMesh(ctx context.Context, id string, data []byte) error {
	if !c.meshes.Push(id, data) {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, c.tuneables.RPCDeadline.Std())
	defer cancel()
	if err := c.stub.PushMesh(rctx, id, data); err != nil {
		return &uwerrors.TransportFailure{Op: "pushMesh", Err: err}
	}
	return nil
}

// Mesh returns the mesh blob for id. It always asks the Stub to confirm
// before trusting anything cached locally is still valid — the cache
// backs PushMesh's no-op re-push detection, it is never itself the
// source of an answer to a caller.
func (c *Context) Mesh(ctx context.Context, id string) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, c.tuneables.RPCDeadline.Std())
	defer cancel()
	data, err := c.stub.Mesh(rctx, id)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			c.meshes.Delete(id)
			return nil, &uwerrors.UnknownKeyError{Key: id}
		}
		return nil, &uwerrors.TransportFailure{Op: "mesh", Err: err}
	}
	c.meshes.Push(id, data)
	return data, nil
}

// HasMesh reports whether id is known, always confirming with the Stub
// rather than trusting the local cache.
func (c *Context) HasMesh(ctx context.Context, id string) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, c.tuneables.RPCDeadline.Std())
	defer cancel()
	has, err := c.stub.HasMesh(rctx, id)
	if err != nil {
		return false, &uwerrors.TransportFailure{Op: "hasMesh", Err: err}
	}
	if !has {
		c.meshes.Delete(id)
	}
	return has, nil
}

// Close finalizes every world and releases the mesh cache. Idempotent.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.worlds.Finalize()
		c.meshes.Close()
	})
	return nil
}
