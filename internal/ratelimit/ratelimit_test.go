package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// TestKeyedBurst tests that each key gets its own bucket
func TestKeyedBurst(t *testing.T) {
	k := New[uint8](Config{PerSecond: 1, Burst: 2})
	now := time.Unix(1000, 0)

	if !k.AllowAt(1, now) || !k.AllowAt(1, now) {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if k.AllowAt(1, now) {
		t.Error("Expected third event to be limited")
	}
	if !k.AllowAt(2, now) {
		t.Error("Expected other key to be unaffected")
	}
	if !k.AllowAt(1, now.Add(time.Second)) {
		t.Error("Expected a token after one second")
	}

	stats := k.Stats()
	if stats["allowed"] != 4 || stats["rejected"] != 1 {
		t.Errorf("Expected 4 allowed and 1 rejected, got %v", stats)
	}
}

// TestKeyedCleanup tests that idle keys are forgotten
func TestKeyedCleanup(t *testing.T) {
	k := New[string](Config{PerSecond: 10, Burst: 10})
	now := time.Unix(1000, 0)

	k.AllowAt("old", now)
	k.AllowAt("new", now.Add(time.Minute))

	if removed := k.Cleanup(now.Add(30 * time.Second)); removed != 1 {
		t.Errorf("Expected 1 idle key removed, got %d", removed)
	}
	if k.Len() != 1 {
		t.Errorf("Expected 1 key left, got %d", k.Len())
	}

	k.Forget("new")
	if k.Len() != 0 {
		t.Errorf("Expected no keys after Forget, got %d", k.Len())
	}
}

// TestKeyedStopIsIdempotent tests that Stop can be called twice
func TestKeyedStopIsIdempotent(t *testing.T) {
	k := New[string](Config{PerSecond: 1, Burst: 1, IdleAfter: time.Hour})
	k.StartCleanup()
	k.Stop()
	k.Stop()
}

// TestSlots tests the concurrent holder cap
func TestSlots(t *testing.T) {
	s := NewSlots[string](2)

	if !s.Acquire("a") || !s.Acquire("a") {
		t.Fatal("Expected two slots to be granted")
	}
	if s.Acquire("a") {
		t.Error("Expected third slot to be refused")
	}
	if s.Rejected() != 1 {
		t.Errorf("Expected 1 rejection, got %d", s.Rejected())
	}

	s.Release("a")
	if s.Held("a") != 1 {
		t.Errorf("Expected 1 held slot, got %d", s.Held("a"))
	}
	if !s.Acquire("a") {
		t.Error("Expected released slot to be granted again")
	}

	s.Release("b")
	if s.Held("b") != 0 {
		t.Errorf("Expected releasing an unknown key to be a no-op, got %d", s.Held("b"))
	}
}

// TestSlotsConcurrent tests that the cap holds under contention
func TestSlotsConcurrent(t *testing.T) {
	s := NewSlots[string](5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Acquire("ip") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Errorf("Expected 5 slots granted, got %d", granted)
	}
}
