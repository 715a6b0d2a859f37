package timelineproxy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/model"
	"github.com/uwrobotics/underworlds/internal/rpc"
	"github.com/uwrobotics/underworlds/internal/rpc/fake"
	"github.com/uwrobotics/underworlds/internal/uwerrors"
)

func fastTuneables() config.Tuneables {
	t := config.Default()
	t.InvalidationPeriod = config.Duration(2 * time.Millisecond)
	t.RPCDeadline = config.Duration(1 * time.Second)
	return t
}

func newProxy(t *testing.T, stub rpc.Stub, clientID, world string) *TimelineProxy {
	t.Helper()
	p, err := New(context.Background(), stub, clientID, world, fastTuneables())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func waitForLen(t *testing.T, p *TimelineProxy, want int) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if p.Len() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for length %d, last seen %d", want, p.Len())
}

func TestEventAppearsExactlyOnce(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")
	cw := rpc.ClientWorld{ClientID: clientID, WorldName: "w1"}

	p := newProxy(t, s, clientID, "w1")

	evt := model.NewEvent("something happened")
	if err := s.EventSituation(ctx, cw, evt.Serialize()); err != nil {
		t.Fatalf("eventSituation: %v", err)
	}
	waitForLen(t, p, 1)
	waitForLen(t, p, 1) // a second wait confirms it settles, doesn't double-apply

	got, err := p.Get(evt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsEvent() {
		t.Fatalf("expected an event (start==end), got %+v", got)
	}
}

func TestStartThenEndUpdatesSameSituation(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")
	cw := rpc.ClientWorld{ClientID: clientID, WorldName: "w1"}

	p := newProxy(t, s, clientID, "w1")

	sit := model.NewSituation("doing a thing", model.Generic)
	if err := s.StartSituation(ctx, cw, sit.Serialize()); err != nil {
		t.Fatalf("startSituation: %v", err)
	}
	waitForLen(t, p, 1)

	started, err := p.Get(sit.ID)
	if err != nil {
		t.Fatalf("get after start: %v", err)
	}
	if started.EndTime != nil {
		t.Fatalf("expected no end time yet, got %v", *started.EndTime)
	}

	if err := s.EndSituation(ctx, cw, sit.ID); err != nil {
		t.Fatalf("endSituation: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		got, err := p.Get(sit.ID)
		if err == nil && got.EndTime != nil {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for situation %s to receive an end time", sit.ID)
}

func TestUnknownSituationIsUnknownKeyError(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")

	p := newProxy(t, s, clientID, "w1")

	_, err := p.Get("no-such-situation")
	var target *uwerrors.UnknownKeyError
	if !errors.As(err, &target) {
		t.Fatalf("expected UnknownKeyError, got %v", err)
	}
}

func TestOnChangeFiresExactlyOncePerInvalidation(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")
	cw := rpc.ClientWorld{ClientID: clientID, WorldName: "w1"}

	p := newProxy(t, s, clientID, "w1")

	var mu sync.Mutex
	var calls []string
	p.OnChange(func(action rpc.TimelineAction, situationID string) {
		mu.Lock()
		calls = append(calls, action.String()+":"+situationID)
		mu.Unlock()
	})

	evt := model.NewEvent("ping")
	if err := s.EventSituation(ctx, cw, evt.Serialize()); err != nil {
		t.Fatalf("eventSituation: %v", err)
	}
	waitForLen(t, p, 1)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	count := 0
	for _, c := range calls {
		if c == "EVENT:"+evt.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected OnChange to fire exactly once for %s, fired %d times (%v)", evt.ID, count, calls)
	}
}

func TestEndBeforeStartIsIgnoredNotInserted(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")

	p := newProxy(t, s, clientID, "w1")

	var calls int
	p.OnChange(func(rpc.TimelineAction, string) {
		calls++
	})

	// Apply an END invalidation directly for a situation id this proxy
	// never saw a START/EVENT for. Per §7 this must be logged and
	// ignored, not fetched from the server and inserted as a new entry.
	p.apply(rpc.TimelineInvalidation{Action: rpc.TimelineEnd, ID: "no-such-situation"})

	if p.Len() != 0 {
		t.Fatalf("expected no situation to be inserted, got length %d", p.Len())
	}
	if _, err := p.Get("no-such-situation"); err == nil {
		t.Fatalf("expected no-such-situation to remain unknown")
	}
	if calls != 0 {
		t.Fatalf("expected OnChange not to fire for an ignored END, fired %d times", calls)
	}
}

func TestWaitForChangesTimesOutWithNoActivity(t *testing.T) {
	s := fake.NewServer()
	ctx := context.Background()
	clientID, _ := s.Hello(ctx, "tester")

	p := newProxy(t, s, clientID, "w1")
	_ = ctx

	if p.WaitForChanges(20 * time.Millisecond) {
		t.Fatalf("expected no change within the timeout")
	}
}
