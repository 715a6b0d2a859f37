package model

import (
	"reflect"
	"testing"
)

func TestNodeSerializeRoundTrip(t *testing.T) {
	n := NewNode("camera_1", Camera)
	n.Parent = "root-id"
	n.Children = []string{"a", "b"}
	n.Transformation = Transformation{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	}
	n.Properties["physics"] = true
	n.Properties["mass"] = 1.5

	got := DeserializeNode(n.Serialize())
	if !reflect.DeepEqual(got, n) {
		t.Fatalf("round trip mismatch:\n got=%#v\nwant=%#v", got, n)
	}
}

func TestNodeSerializeDoesNotAliasMutableFields(t *testing.T) {
	n := NewNode("n", Mesh)
	n.Children = []string{"x"}

	w := n.Serialize()
	w.Children[0] = "mutated"

	if n.Children[0] != "x" {
		t.Fatalf("Serialize aliased the Children slice")
	}
}

func TestDeserializeNodeDoesNotAliasWireProperties(t *testing.T) {
	w := WireNode{ID: "n", Properties: map[string]any{"mass": 1.5}}

	got := DeserializeNode(w)
	got.Properties["mass"] = 9.9

	if w.Properties["mass"] != 1.5 {
		t.Fatalf("DeserializeNode aliased the wire Properties map")
	}
}

func TestNodeEqualityAndOrderingAreByID(t *testing.T) {
	a := Node{ID: "a"}
	b := Node{ID: "b"}
	aCopy := Node{ID: "a", Name: "different name"}

	if !a.Equal(aCopy) {
		t.Fatalf("expected equality by id regardless of other fields")
	}
	if a.Equal(b) {
		t.Fatalf("expected inequality for distinct ids")
	}
	if !a.Less(b) {
		t.Fatalf("expected lexicographic ordering a < b")
	}
}

func TestNewRootNodeIsEntity(t *testing.T) {
	root := NewRootNode()
	if root.Type != Entity {
		t.Fatalf("expected root node type Entity, got %v", root.Type)
	}
	if root.Name != "root" {
		t.Fatalf("expected root node name %q, got %q", "root", root.Name)
	}
	if physics, ok := root.Properties["physics"].(bool); !ok || physics {
		t.Fatalf("expected default physics property false, got %v", root.Properties["physics"])
	}
}
