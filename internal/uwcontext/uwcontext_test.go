package uwcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/rpc/fake"
	"github.com/uwrobotics/underworlds/internal/uwerrors"
)

func fastTuneables() config.Tuneables {
	t := config.Default()
	t.InvalidationPeriod = config.Duration(2 * time.Millisecond)
	t.ExtendByOneGrace = config.Duration(20 * time.Millisecond)
	t.RPCDeadline = config.Duration(1 * time.Second)
	t.TopologySyncSchedule = ""
	return t
}

func TestOpenRegistersClientAndCloseIsIdempotent(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()

	c, err := Open(ctx, s, "tester", fastTuneables())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.ClientID() == "" {
		t.Fatalf("expected a non-empty client id")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestUsePropagatesCallbackError(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	boom := errors.New("boom")

	err := Use(ctx, s, "tester", fastTuneables(), func(c *Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected Use to propagate the callback's error, got %v", err)
	}
}

func TestMeshRoundTripThroughCacheAndServer(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()

	c, err := Open(ctx, s, "tester", fastTuneables())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	has, err := c.HasMesh(ctx, "mesh-1")
	if err != nil {
		t.Fatalf("hasMesh: %v", err)
	}
	if has {
		t.Fatalf("expected mesh-1 absent initially")
	}

	if err := c.PushMesh(ctx, "mesh-1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("pushMesh: %v", err)
	}

	got, err := c.Mesh(ctx, "mesh-1")
	if err != nil {
		t.Fatalf("mesh: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bytes, got %d", len(got))
	}
}

func TestMeshUnknownIsUnknownKeyError(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()

	c, err := Open(ctx, s, "tester", fastTuneables())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	_, err = c.Mesh(ctx, "no-such-mesh")
	var target *uwerrors.UnknownKeyError
	if !errors.As(err, &target) {
		t.Fatalf("expected UnknownKeyError, got %v", err)
	}
}

func TestMeshAlwaysConfirmsWithStubEvenOnCacheHit(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()

	c, err := Open(ctx, s, "tester", fastTuneables())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if err := c.PushMesh(ctx, "mesh-1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("pushMesh: %v", err)
	}
	if _, err := c.Mesh(ctx, "mesh-1"); err != nil {
		t.Fatalf("mesh: %v", err)
	}

	// The blob is now in the local cache. Remove it on the server side
	// without going through PushMesh/Context at all, then confirm Mesh
	// and HasMesh both reflect the server's current state instead of
	// silently trusting the stale cache entry.
	s.DeleteMesh("mesh-1")

	if has, err := c.HasMesh(ctx, "mesh-1"); err != nil {
		t.Fatalf("hasMesh: %v", err)
	} else if has {
		t.Fatalf("expected HasMesh to reflect server-side deletion, not the stale cache entry")
	}

	if _, err := c.Mesh(ctx, "mesh-1"); err == nil {
		t.Fatalf("expected Mesh to reflect server-side deletion, not return the stale cached blob")
	}
}

func TestWorldsAreReachableThroughContext(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()

	c, err := Open(ctx, s, "tester", fastTuneables())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	w, err := c.Worlds().Get(ctx, "w1")
	if err != nil {
		t.Fatalf("worlds.get: %v", err)
	}
	root, err := w.Scene().RootNode(ctx)
	if err != nil {
		t.Fatalf("rootNode: %v", err)
	}
	if root.Name != "root" {
		t.Fatalf("expected root name %q, got %q", "root", root.Name)
	}
}
