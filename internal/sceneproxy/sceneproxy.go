// Package sceneproxy implements SceneProxy (§4.3): the thin façade
// pairing one world's NodesProxy replica with the operations a scene
// consumer actually wants (root access, entity listing, change waits),
// without exposing the index/key plumbing NodesProxy needs internally.
package sceneproxy

import (
	"context"
	"time"

	"github.com/uwrobotics/underworlds/internal/model"
	"github.com/uwrobotics/underworlds/internal/nodesproxy"
)

// SceneProxy wraps a NodesProxy with scene-level conveniences.
type SceneProxy struct {
	nodes *nodesproxy.NodesProxy
}

// New wraps an already-constructed NodesProxy.
func New(nodes *nodesproxy.NodesProxy) *SceneProxy {
	return &SceneProxy{nodes: nodes}
}

// Nodes exposes the underlying NodesProxy for callers that need
// index/key access directly.
func (s *SceneProxy) Nodes() *nodesproxy.NodesProxy { return s.nodes }

// RootNode returns the scene's root node.
func (s *SceneProxy) RootNode(ctx context.Context) (model.Node, error) {
	return s.nodes.Get(ctx, s.nodes.RootID())
}

// Get resolves one node by id.
func (s *SceneProxy) Get(ctx context.Context, id string) (model.Node, error) {
	return s.nodes.Get(ctx, id)
}

// Len returns the current known node count.
func (s *SceneProxy) Len() int { return s.nodes.Length() }

// WaitForChanges blocks until the underlying node replica changes, or
// timeout elapses. A non-positive timeout blocks indefinitely.
func (s *SceneProxy) WaitForChanges(timeout time.Duration) bool {
	return s.nodes.WaitForChanges(timeout)
}

// Entities materializes every currently-known node and returns those of
// type Entity, in index order. This is list_entities() from the original
// implementation: the distilled spec dropped it, but it is a cheap,
// well-defined read-only convenience worth keeping (SUPPLEMENTED).
func (s *SceneProxy) Entities(ctx context.Context) ([]model.Node, error) {
	n := s.nodes.Length()
	out := make([]model.Node, 0, n)
	for i := 0; i < n; i++ {
		node, err := s.nodes.GetByIndex(ctx, i)
		if err != nil {
			return nil, err
		}
		if node.Type == model.Entity {
			out = append(out, node)
		}
	}
	return out, nil
}

// Finalize stops the scene's background replication task.
func (s *SceneProxy) Finalize() {
	s.nodes.Close()
}
