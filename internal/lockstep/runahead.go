package lockstep

import (
	"sync"

	"generals-net/internal/config"
	"generals-net/internal/metrics"
	"generals-net/internal/netcmd"
)

// RunAheadController turns per-player latency and frame rate reports into
// the run-ahead and frame rate the whole game runs at. Only the slot that
// computes run-ahead (the lowest connected slot) uses Compute; every peer
// uses Apply.
type RunAheadController struct {
	mu  sync.Mutex
	cfg config.NetConfig

	latency []float32 // seconds; 0 means no report
	fps     []int     // -1 means no report

	runAhead  int
	frameRate int
}

// NewRunAheadController creates a controller starting from the default
// run-ahead.
func NewRunAheadController(cfg config.NetConfig) *RunAheadController {
	c := &RunAheadController{
		cfg:     cfg,
		latency: make([]float32, cfg.MaxSlots),
		fps:     make([]int, cfg.MaxSlots),
	}
	for i := range c.fps {
		c.fps[i] = -1
	}
	ra := netcmd.DefaultRunAhead(cfg)
	c.runAhead, c.frameRate = int(ra.RunAhead), int(ra.FrameRate)
	return c
}

// Report records a player's averages.
func (c *RunAheadController) Report(slot uint8, latency float32, fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(slot) >= len(c.fps) {
		return
	}
	c.latency[slot] = latency
	c.fps[slot] = fps
}

// Forget drops a departed player's reports.
func (c *RunAheadController) Forget(slot uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(slot) >= len(c.fps) {
		return
	}
	c.latency[slot] = 0
	c.fps[slot] = -1
}

// maxLatency is the sum of the two worst reported latencies: the round
// trip between the two slowest peers.
func (c *RunAheadController) maxLatency() float32 {
	var lat1, lat2 float32
	for _, l := range c.latency {
		if l > lat1 {
			lat1, lat2 = l, lat1
		} else if l > lat2 {
			lat2 = l
		}
	}
	return lat1 + lat2
}

func (c *RunAheadController) minFps() (fps, slot int) {
	fps, slot = -1, -1
	for i, f := range c.fps {
		if f != -1 && (fps == -1 || f < fps) {
			fps, slot = f, i
		}
	}
	return fps, slot
}

// Compute derives the next run-ahead commands from the reports. general is
// for every player but the slowest; slowest gets a slightly higher frame
// rate so the game can speed up if that player can. ok is false until a
// report exists.
func (c *RunAheadController) Compute() (general, slowest *netcmd.RunAhead, slowSlot int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	minFps, slowSlot := c.minFps()
	if minFps == -1 {
		return nil, nil, -1, false
	}

	// Within 10% of the current rate is close enough to keep it.
	if minFps >= c.frameRate*9/10 && minFps < c.frameRate {
		minFps = c.frameRate
	}
	minFps = max(minFps, c.cfg.MinFrameRate)
	minFps = min(minFps, c.cfg.FrameRateLimit)

	runAhead := int(c.maxLatency() / 2 * float32(minFps))
	runAhead += runAhead * c.cfg.RunAheadSlackPercent / 100

	boosted := minFps * 11 / 10
	if boosted == minFps {
		boosted = minFps + 1
	}
	boosted = min(boosted, c.cfg.FrameRateLimit)

	general = netcmd.NewRunAhead(runAhead, minFps, c.cfg)
	slowest = netcmd.NewRunAhead(runAhead, boosted, c.cfg)
	return general, slowest, slowSlot, true
}

// Apply adopts a run-ahead command.
func (c *RunAheadController) Apply(ra *netcmd.RunAhead) {
	c.mu.Lock()
	c.runAhead, c.frameRate = int(ra.RunAhead), int(ra.FrameRate)
	c.mu.Unlock()
	metrics.UpdateRunAhead(int(ra.RunAhead), int(ra.FrameRate))
}

// Current returns the run-ahead and frame rate in force.
func (c *RunAheadController) Current() (runAhead, frameRate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runAhead, c.frameRate
}
