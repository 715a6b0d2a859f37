package worldproxy

import (
	"context"
	"testing"
	"time"

	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/model"
	"github.com/uwrobotics/underworlds/internal/rpc"
	"github.com/uwrobotics/underworlds/internal/rpc/fake"
)

func fastTuneables() config.Tuneables {
	t := config.Default()
	t.InvalidationPeriod = config.Duration(2 * time.Millisecond)
	t.ExtendByOneGrace = config.Duration(20 * time.Millisecond)
	t.RPCDeadline = config.Duration(1 * time.Second)
	t.TopologySyncSchedule = ""
	return t
}

func TestGetMaterializesAndCaches(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")

	wp := New(s, clientID, fastTuneables())
	defer wp.Finalize()

	a, err := wp.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("get(alpha): %v", err)
	}
	b, err := wp.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("get(alpha) again: %v", err)
	}
	if a != b {
		t.Fatalf("expected the same WorldProxy instance on repeat Get")
	}
}

func TestNamesReflectsServerTopology(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")

	wp := New(s, clientID, fastTuneables())
	defer wp.Finalize()

	if _, err := wp.Get(ctx, "alpha"); err != nil {
		t.Fatalf("get(alpha): %v", err)
	}
	if _, err := wp.Get(ctx, "beta"); err != nil {
		t.Fatalf("get(beta): %v", err)
	}

	names, err := wp.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Fatalf("expected alpha and beta in %v", names)
	}
}

func TestCopyFromPropagatesNodesIntoDestination(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")
	srcCW := rpc.ClientWorld{ClientID: clientID, WorldName: "src"}

	n := model.NewNode("thing", model.Entity)
	if err := s.UpdateNode(ctx, srcCW, n.Serialize()); err != nil {
		t.Fatalf("updateNode: %v", err)
	}

	wp := New(s, clientID, fastTuneables())
	defer wp.Finalize()

	dst, err := wp.Get(ctx, "dst")
	if err != nil {
		t.Fatalf("get(dst): %v", err)
	}
	if err := dst.CopyFrom(ctx, "src"); err != nil {
		t.Fatalf("copyFrom: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && dst.Scene().Len() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if dst.Scene().Len() < 2 {
		t.Fatalf("expected the copied node to appear in dst, length=%d", dst.Scene().Len())
	}

	got, err := dst.Scene().Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("get copied node: %v", err)
	}
	if got.Name != "thing" {
		t.Fatalf("expected copied node name %q, got %q", "thing", got.Name)
	}
}

func TestAssignIsANoOp(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")

	wp := New(s, clientID, fastTuneables())
	defer wp.Finalize()

	a, err := wp.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("get(alpha): %v", err)
	}
	wp.Assign("alpha", nil)

	again, err := wp.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("get(alpha) again: %v", err)
	}
	if a != again {
		t.Fatalf("expected Assign to be a no-op, but the cached world changed")
	}
}
