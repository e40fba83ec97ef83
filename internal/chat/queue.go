package chat

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Handler consumes accepted chat lines.
type Handler func(Line)

// Queue is a non-blocking dispatch queue for accepted lines with a worker
// pool. It keeps slow listeners (websocket clients, the journal) off the
// lockstep loop.
type Queue struct {
	lines    chan Line
	handlers []Handler
	workers  int
	wg       sync.WaitGroup
	running  atomic.Bool
	stopChan chan struct{}

	// Metrics
	enqueued    atomic.Uint64
	processed   atomic.Uint64
	dropped     atomic.Uint64
	avgWaitTime atomic.Int64 // nanoseconds, exponential moving average
}

// QueueConfig holds configuration for the dispatch queue
type QueueConfig struct {
	BufferSize int // Number of lines to buffer (default: 256)
	Workers    int // Number of worker goroutines (default: 1)
}

// DefaultQueueConfig returns defaults that keep lines in order
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BufferSize: 256,
		Workers:    1, // Chat order matters to players
	}
}

// NewQueue creates a dispatch queue calling every handler for each line
func NewQueue(config QueueConfig, handlers ...Handler) *Queue {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	return &Queue{
		lines:    make(chan Line, config.BufferSize),
		handlers: handlers,
		workers:  config.Workers,
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker pool
func (q *Queue) Start() {
	if q.running.Swap(true) {
		return // Already running
	}

	log.Printf("💬 Chat queue starting with %d workers, buffer size %d", q.workers, cap(q.lines))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop shuts down the queue after dispatching what is buffered
func (q *Queue) Stop() {
	if !q.running.Swap(false) {
		return // Not running
	}

	close(q.stopChan)
	q.wg.Wait()

	log.Printf("📊 Chat queue stopped - enqueued: %d, processed: %d, dropped: %d",
		q.enqueued.Load(), q.processed.Load(), q.dropped.Load())
}

// Enqueue adds a line to the queue (non-blocking).
// Returns false if the queue is full and the line was dropped.
func (q *Queue) Enqueue(line Line) bool {
	if line.ReceivedAt.IsZero() {
		line.ReceivedAt = time.Now()
	}

	select {
	case q.lines <- line:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		if q.dropped.Load()%100 == 1 {
			log.Printf("⚠️ Chat queue full, dropped line from player %d (total dropped: %d)",
				line.From, q.dropped.Load())
		}
		return false
	}
}

// worker dispatches lines from the queue
func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopChan:
			for {
				select {
				case line := <-q.lines:
					q.dispatch(line)
				default:
					return
				}
			}
		case line := <-q.lines:
			q.dispatch(line)
		}
	}
}

func (q *Queue) dispatch(line Line) {
	waitTime := time.Since(line.ReceivedAt)
	q.updateAvgWaitTime(waitTime)

	if waitTime > 100*time.Millisecond {
		log.Printf("⚠️ Chat line from player %d waited %.1fms in queue",
			line.From, float64(waitTime.Microseconds())/1000)
	}

	for _, h := range q.handlers {
		h(line)
	}
	q.processed.Add(1)
}

// updateAvgWaitTime updates exponential moving average
func (q *Queue) updateAvgWaitTime(waitTime time.Duration) {
	current := q.avgWaitTime.Load()
	// EMA with alpha = 0.1
	newAvg := (current*9 + waitTime.Nanoseconds()) / 10
	q.avgWaitTime.Store(newAvg)
}

// Stats returns current queue statistics
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued:       q.enqueued.Load(),
		Processed:      q.processed.Load(),
		Dropped:        q.dropped.Load(),
		Pending:        uint64(len(q.lines)),
		BufferSize:     uint64(cap(q.lines)),
		AvgWaitTimeMs:  float64(q.avgWaitTime.Load()) / 1e6,
		BufferUsagePct: float64(len(q.lines)) / float64(cap(q.lines)) * 100,
	}
}

// QueueStats holds queue metrics
type QueueStats struct {
	Enqueued       uint64  `json:"enqueued"`
	Processed      uint64  `json:"processed"`
	Dropped        uint64  `json:"dropped"`
	Pending        uint64  `json:"pending"`
	BufferSize     uint64  `json:"buffer_size"`
	AvgWaitTimeMs  float64 `json:"avg_wait_time_ms"`
	BufferUsagePct float64 `json:"buffer_usage_pct"`
}
