// Package model defines the value types exchanged with the underworlds
// server: nodes, situations, and worlds. These are plain data
// records — identity and equality are by id, never by pointer — and are
// immutable by convention once handed to a proxy.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeType classifies a scene graph node.
type NodeType int

const (
	Undefined NodeType = iota
	Mesh
	// Entity nodes are abstract: they can represent non-physical objects
	// (a reference frame) or groups of other objects. The scene root is
	// always an Entity.
	Entity
	Camera
)

func (t NodeType) String() string {
	switch t {
	case Mesh:
		return "mesh"
	case Entity:
		return "entity"
	case Camera:
		return "camera"
	default:
		return "undefined"
	}
}

// Transformation is a 4x4 transformation matrix, relative to the node's
// parent, in row-major semantic order, translation units in meters.
type Transformation [16]float32

// Identity returns the identity transformation.
func Identity() Transformation {
	return Transformation{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Node is a scene graph element. Children are stored as ids, not direct
// references, so the tree can be partially materialized and serialized
// without cyclic ownership in the local cache.
type Node struct {
	ID             string
	Name           string
	Type           NodeType
	Parent         string // empty for the root node
	Children       []string
	Transformation Transformation
	Properties     map[string]any
	LastUpdate     float64 // seconds since epoch
}

// NewNode creates a node with a fresh id, the "physics" property
// defaulted to false, and LastUpdate set to now.
func NewNode(name string, typ NodeType) Node {
	return Node{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           typ,
		Transformation: Identity(),
		Properties:     map[string]any{"physics": false},
		LastUpdate:     float64(time.Now().UnixNano()) / 1e9,
	}
}

// NewRootNode creates the distinguished root node of a fresh scene.
func NewRootNode() Node {
	return NewNode("root", Entity)
}

func (n Node) String() string {
	if n.Name != "" {
		return n.Name
	}
	return fmt.Sprintf("%s (%s)", n.ID, n.Type)
}

// Equal reports whether two nodes have the same id. Identity and equality
// of nodes are always by id, per the data model.
func (n Node) Equal(other Node) bool { return n.ID == other.ID }

// Less orders nodes lexicographically by id.
func (n Node) Less(other Node) bool { return n.ID < other.ID }

// WireNode is the wire value of a Node (§6): the shape exchanged with the
// server, with properties represented as a generic map and the
// transformation flattened to 16 floats.
type WireNode struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           int            `json:"type"`
	Parent         string         `json:"parent"`
	Children       []string       `json:"children"`
	Transformation [16]float32    `json:"transformation"`
	Properties     map[string]any `json:"properties"`
	LastUpdate     float64        `json:"last_update"`
}

// Serialize outputs the wire value of the node.
func (n Node) Serialize() WireNode {
	children := make([]string, len(n.Children))
	copy(children, n.Children)

	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}

	return WireNode{
		ID:             n.ID,
		Name:           n.Name,
		Type:           int(n.Type),
		Parent:         n.Parent,
		Children:       children,
		Transformation: n.Transformation,
		Properties:     props,
		LastUpdate:     n.LastUpdate,
	}
}

// DeserializeNode creates a Node from its wire value.
func DeserializeNode(w WireNode) Node {
	children := make([]string, len(w.Children))
	copy(children, w.Children)

	props := make(map[string]any, len(w.Properties))
	for k, v := range w.Properties {
		props[k] = v
	}

	return Node{
		ID:             w.ID,
		Name:           w.Name,
		Type:           NodeType(w.Type),
		Parent:         w.Parent,
		Children:       children,
		Transformation: Transformation(w.Transformation),
		Properties:     props,
		LastUpdate:     w.LastUpdate,
	}
}
