// Package rpc defines the abstract RPC surface (§6) a real transport must
// implement. The transport itself — gRPC, a Unix socket, whatever — is an
// external collaborator out of scope for this module; this package is
// only the contract the replication engine is written against, plus (in
// the fake subpackage) an in-memory stand-in good enough to drive every
// proxy end to end in tests.
package rpc

import (
	"context"
	"errors"

	"github.com/uwrobotics/underworlds/internal/model"
)

// ErrNotFound is the distinguished error GetNode/server-side situation
// lookups return when the requested id does not exist server-side.
var ErrNotFound = errors.New("rpc: not found")

// ClientWorld identifies the (client, world) pair every per-world call is
// scoped to, mirroring the gRPC Context message of the original protocol.
type ClientWorld struct {
	ClientID  string
	WorldName string
}

// NodeAction is the invalidation action code for a node change.
type NodeAction int

const (
	NodeNew NodeAction = iota
	NodeUpdate
	NodeDelete
)

func (a NodeAction) String() string {
	switch a {
	case NodeNew:
		return "NEW"
	case NodeUpdate:
		return "UPDATE"
	case NodeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// NodeInvalidation is one entry of a getNodeInvalidations batch.
type NodeInvalidation struct {
	Action NodeAction
	ID     string
}

// TimelineAction is the invalidation action code for a situation change.
type TimelineAction int

const (
	TimelineStart TimelineAction = iota
	TimelineEvent
	TimelineEnd
)

func (a TimelineAction) String() string {
	switch a {
	case TimelineStart:
		return "START"
	case TimelineEvent:
		return "EVENT"
	case TimelineEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// TimelineInvalidation is one entry of a getTimelineInvalidations batch.
type TimelineInvalidation struct {
	Action TimelineAction
	ID     string
}

// ClientLink describes one client's relationship to one world, as
// reported by Topology.
type ClientLink struct {
	LinkType     string
	LastActivity float64
}

// Topology is the directory returned by Stub.Topology: clients' names
// mapped to the worlds they touch, and the list of all known worlds.
type Topology struct {
	Clients map[string]map[string]ClientLink
	Worlds  []string
}

// Stub is the client-side view of the server's RPC surface (§6). Every
// method takes a context.Context for cancellation/deadline — standing in
// for the spec's per-call ~1s deadline — and returns uwerrors-wrappable
// errors on transport failure.
type Stub interface {
	// Hello registers a client under the given name and returns its
	// server-assigned id.
	Hello(ctx context.Context, name string) (clientID string, err error)

	GetNodesLen(ctx context.Context, cw ClientWorld) (int, error)
	// GetNodesIDs returns the initial id set; every id is considered
	// stale (as if freshly invalidated) by the caller.
	GetNodesIDs(ctx context.Context, cw ClientWorld) ([]string, error)
	GetRootNode(ctx context.Context, cw ClientWorld) (id string, err error)
	// GetNode fetches one node. Returns ErrNotFound if id does not exist.
	GetNode(ctx context.Context, cw ClientWorld, id string) (model.WireNode, error)
	// UpdateNode is a write-through upsert: the server applies it and
	// will eventually emit a matching NEW/UPDATE invalidation.
	UpdateNode(ctx context.Context, cw ClientWorld, node model.WireNode) error
	// DeleteNode is a write-through delete.
	DeleteNode(ctx context.Context, cw ClientWorld, node model.WireNode) error
	// GetNodeInvalidations pulls one batch of pending node invalidations.
	GetNodeInvalidations(ctx context.Context, cw ClientWorld) ([]NodeInvalidation, error)

	// TimelineOrigin returns the world's creation timestamp.
	TimelineOrigin(ctx context.Context, cw ClientWorld) (float64, error)
	// GetTimelineInvalidations pulls one batch of pending timeline
	// invalidations.
	GetTimelineInvalidations(ctx context.Context, cw ClientWorld) ([]TimelineInvalidation, error)
	// GetSituation fetches one situation by id. Returns ErrNotFound if it
	// does not exist.
	GetSituation(ctx context.Context, cw ClientWorld, id string) (model.WireSituation, error)
	StartSituation(ctx context.Context, cw ClientWorld, sit model.WireSituation) error
	EventSituation(ctx context.Context, cw ClientWorld, sit model.WireSituation) error
	EndSituation(ctx context.Context, cw ClientWorld, situationID string) error

	// CopyWorld asks the server to replace cw.WorldName's contents with a
	// deep copy of fromWorld, returning once the server has acknowledged.
	CopyWorld(ctx context.Context, cw ClientWorld, fromWorld string) error

	Topology(ctx context.Context) (Topology, error)
	Uptime(ctx context.Context) (seconds float64, err error)

	PushMesh(ctx context.Context, id string, data []byte) error
	Mesh(ctx context.Context, id string) ([]byte, error)
	HasMesh(ctx context.Context, id string) (bool, error)
}
