package chat

import (
	"time"

	"generals-net/internal/config"
	"generals-net/internal/ratelimit"
)

// FloodGuard limits chat lines per player slot
type FloodGuard struct {
	limits *ratelimit.Keyed[uint8]
	now    func() time.Time
}

// NewFloodGuard creates a guard; non-positive limits fall back to defaults
func NewFloodGuard(cfg config.ChatConfig) *FloodGuard {
	def := config.DefaultChat()
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = def.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &FloodGuard{
		limits: ratelimit.New[uint8](ratelimit.Config{
			PerSecond: cfg.MessagesPerSecond,
			Burst:     cfg.Burst,
		}),
		now: time.Now,
	}
}

// Allow reports whether slot may send another line
func (g *FloodGuard) Allow(slot uint8) bool {
	return g.limits.AllowAt(slot, g.now())
}

// Forget drops a player's limiter, e.g. when the player leaves
func (g *FloodGuard) Forget(slot uint8) {
	g.limits.Forget(slot)
}

// Cleanup removes limiters idle since before cutoff
func (g *FloodGuard) Cleanup(cutoff time.Time) int {
	return g.limits.Cleanup(cutoff)
}
