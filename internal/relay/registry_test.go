package relay

import (
	"testing"
	"time"
)

func TestRegistry_AddAndRemove(t *testing.T) {
	r := NewRegistry()

	r.Add(&ConnectionRecord{ConnectionID: "c1", RemoteAddr: "10.0.0.5:51234"})
	r.Add(&ConnectionRecord{ConnectionID: "c2", RemoteAddr: "10.0.0.6:51235"})

	if r.Count() != 2 {
		t.Fatalf("Expected 2 connections, got %d", r.Count())
	}

	rec, ok := r.Get("c1")
	if !ok {
		t.Fatal("Expected c1 to exist")
	}
	if rec.RemoteAddr != "10.0.0.5:51234" {
		t.Errorf("Wrong remote address: %s", rec.RemoteAddr)
	}
	if rec.ConnectedAt.IsZero() || rec.LastSeenAt.IsZero() {
		t.Error("Timestamps should be set on add")
	}

	removed, ok := r.Remove("c1")
	if !ok || removed.ConnectionID != "c1" {
		t.Fatal("Remove should return the record")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 connection after remove, got %d", r.Count())
	}

	if _, ok := r.Remove("c1"); ok {
		t.Error("Second remove should report missing")
	}
}

func TestRegistry_TouchUpdatesLiveness(t *testing.T) {
	r := NewRegistry()
	r.Add(&ConnectionRecord{ConnectionID: "c1"})

	before, _ := r.Get("c1")
	time.Sleep(5 * time.Millisecond)
	r.Touch("c1")
	after, _ := r.Get("c1")

	if !after.LastSeenAt.After(before.LastSeenAt) {
		t.Error("Touch should advance lastSeenAt")
	}
}

func TestRegistry_SetDevice(t *testing.T) {
	r := NewRegistry()
	r.Add(&ConnectionRecord{ConnectionID: "c1"})

	r.SetDevice("c1", "device-a")
	rec, _ := r.Get("c1")
	if rec.DeviceID != "device-a" {
		t.Errorf("Expected device-a, got %q", rec.DeviceID)
	}

	// Unknown connection is a no-op
	r.SetDevice("ghost", "device-b")
}

func TestRegistry_Stale(t *testing.T) {
	r := NewRegistry()
	r.Add(&ConnectionRecord{ConnectionID: "fresh"})
	r.Add(&ConnectionRecord{ConnectionID: "idle"})

	// Age the idle connection past the window
	r.mu.Lock()
	r.conns["idle"].LastSeenAt = time.Now().Add(-10 * time.Minute)
	r.mu.Unlock()

	stale := r.Stale(5 * time.Minute)
	if len(stale) != 1 || stale[0] != "idle" {
		t.Fatalf("Expected [idle], got %v", stale)
	}
}
