// Package ratelimit provides token-bucket limiters keyed by client: an IP
// for the admin API, a player slot for chat and the command journal.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a keyed limiter.
type Config struct {
	PerSecond float64       // Sustained events per second per key
	Burst     int           // Events allowed back to back
	IdleAfter time.Duration // Keys unused this long are forgotten; 0 keeps them
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed holds one token bucket per key. Keys are created on first use.
type Keyed[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
	config  Config

	stopChan chan struct{}
	stopOnce sync.Once

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// New creates a keyed limiter. No goroutine runs until StartCleanup.
func New[K comparable](cfg Config) *Keyed[K] {
	return &Keyed[K]{
		entries:  make(map[K]*entry),
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Allow reports whether key may act now.
func (k *Keyed[K]) Allow(key K) bool {
	return k.AllowAt(key, time.Now())
}

// AllowAt reports whether key may act at now.
func (k *Keyed[K]) AllowAt(key K, now time.Time) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(k.config.PerSecond), k.config.Burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	k.mu.Unlock()

	if allowed {
		k.allowed.Add(1)
	} else {
		k.rejected.Add(1)
	}
	return allowed
}

// Forget drops key's bucket.
func (k *Keyed[K]) Forget(key K) {
	k.mu.Lock()
	delete(k.entries, key)
	k.mu.Unlock()
}

// Cleanup forgets keys last seen before cutoff and returns how many.
func (k *Keyed[K]) Cleanup(cutoff time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// StartCleanup forgets idle keys every IdleAfter until Stop.
func (k *Keyed[K]) StartCleanup() {
	if k.config.IdleAfter <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(k.config.IdleAfter)
		defer ticker.Stop()

		for {
			select {
			case <-k.stopChan:
				return
			case now := <-ticker.C:
				k.Cleanup(now.Add(-k.config.IdleAfter * 2))
			}
		}
	}()
}

// Stop ends the cleanup goroutine.
func (k *Keyed[K]) Stop() {
	k.stopOnce.Do(func() {
		close(k.stopChan)
	})
}

// Stats returns allowed and rejected counts.
func (k *Keyed[K]) Stats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  k.allowed.Load(),
		"rejected": k.rejected.Load(),
	}
}

// =============================================================================
// CONCURRENT SLOTS
// =============================================================================

// Slots caps concurrent holders per key, e.g. websocket connections per IP.
type Slots[K comparable] struct {
	mu       sync.Mutex
	held     map[K]int
	maxPer   int
	rejected atomic.Uint64
}

// NewSlots creates a limiter allowing maxPer concurrent holders per key.
func NewSlots[K comparable](maxPer int) *Slots[K] {
	return &Slots[K]{held: make(map[K]int), maxPer: maxPer}
}

// Acquire takes a slot for key, returning false when key is at its cap.
func (s *Slots[K]) Acquire(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held[key] >= s.maxPer {
		s.rejected.Add(1)
		return false
	}
	s.held[key]++
	return true
}

// Release returns a slot taken by Acquire.
func (s *Slots[K]) Release(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.held[key]; n > 1 {
		s.held[key] = n - 1
	} else {
		delete(s.held, key)
	}
}

// Held returns key's current holder count.
func (s *Slots[K]) Held(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[key]
}

// Rejected returns how many Acquire calls were refused.
func (s *Slots[K]) Rejected() uint64 {
	return s.rejected.Load()
}
