package meshcache

import "testing"

func TestPushThenGetRoundTrips(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.Has("m1") {
		t.Fatalf("expected m1 absent initially")
	}

	data := []byte{1, 2, 3}
	if stored := c.Push("m1", data); !stored {
		t.Fatalf("expected first push to store")
	}

	got, ok := c.Get("m1")
	if !ok {
		t.Fatalf("expected m1 to be present")
	}
	if len(got) != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), len(got))
	}
}

func TestPushSkipsIdenticalContent(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	data := []byte("same bytes")
	if stored := c.Push("m1", data); !stored {
		t.Fatalf("expected first push to store")
	}
	if stored := c.Push("m1", append([]byte(nil), data...)); stored {
		t.Fatalf("expected re-pushing identical content to be a no-op")
	}
}

func TestPushOverwritesChangedContent(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Push("m1", []byte("v1"))
	if stored := c.Push("m1", []byte("v2")); !stored {
		t.Fatalf("expected changed content to be (re)stored")
	}

	got, ok := c.Get("m1")
	if !ok {
		t.Fatalf("expected m1 to be present")
	}
	if string(got) != "v2" {
		t.Fatalf("expected %q, got %q", "v2", string(got))
	}
}

func TestGetReturnsACopy(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Push("m1", []byte{1, 2, 3})
	got, _ := c.Get("m1")
	got[0] = 0xFF

	again, _ := c.Get("m1")
	if again[0] == 0xFF {
		t.Fatalf("mutating a returned blob must not affect the cached copy")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Push("m1", []byte{1})
	c.Delete("m1")
	if c.Has("m1") {
		t.Fatalf("expected m1 to be gone after Delete")
	}
}
