// Package journal records lockstep commands to an append-only JSONL file
// for replay and desync diagnosis.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"generals-net/internal/netcmd"
	"generals-net/internal/ratelimit"
	"generals-net/internal/wire"
)

const (
	BufferSize           = 1024                   // Circular buffer size
	MaxEntriesPerSec     = 10000                  // Global rate limit
	MaxEntriesPerPlayer  = 500                    // Per-player rate limit per second
	BatchFlushSize       = 64                     // Entries per batch write
	BatchFlushInterval   = 100 * time.Millisecond // How often to flush
	PlayerLimiterCleanup = 5 * time.Minute        // Cleanup interval for player limiters
)

// EntryVersion for backwards compatibility in replay
const EntryVersion uint8 = 1

// Direction of a journaled command.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Entry is one journaled command.
type Entry struct {
	Version   uint8  `json:"version"`
	Session   string `json:"session"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"` // Unix nano
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Frame     uint32 `json:"frame"`
	Player    uint8  `json:"player"`
	CommandID uint16 `json:"commandId"`
	Relay     uint8  `json:"relay"`
	Payload   []byte `json:"payload"` // Wire encoding of the command
}

// Decode returns the journaled command.
func (e Entry) Decode() (wire.Decoded, error) {
	return wire.DecodeCommand(e.Payload)
}

// Journal provides bounded, rate-limited command logging with backpressure
type Journal struct {
	session string

	// Circular buffer
	buffer    [BufferSize]Entry
	bufferMu  sync.Mutex
	writeHead uint64
	readHead  uint64

	// Rate limiting keeps a flooding peer from filling the disk
	globalLimiter  *rate.Limiter
	playerLimiters *ratelimit.Keyed[uint8]

	// Async writer
	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// File output
	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// New creates a journal for one session.
func New(session string) *Journal {
	return &Journal{
		session:       session,
		globalLimiter: rate.NewLimiter(MaxEntriesPerSec, MaxEntriesPerSec/10),
		playerLimiters: ratelimit.New[uint8](ratelimit.Config{
			PerSecond: MaxEntriesPerPlayer,
			Burst:     MaxEntriesPerPlayer / 10,
			IdleAfter: PlayerLimiterCleanup,
		}),
		stopChan: make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer. An empty
// path keeps entries in memory only.
func (j *Journal) Start(filePath string) error {
	if j.running.Load() {
		return nil
	}

	j.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		j.file = file
	}

	j.running.Store(true)
	j.writerWg.Add(1)
	go j.writerLoop()
	j.playerLimiters.StartCleanup()
	return nil
}

// Stop flushes pending entries and closes the file.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		j.running.Store(false)
		close(j.stopChan)
		j.writerWg.Wait()
		j.playerLimiters.Stop()

		j.fileMu.Lock()
		if j.file != nil {
			j.file.Close()
		}
		j.fileMu.Unlock()
	})
}

// Record journals msg. payload is its wire encoding. Returns false if
// rate limited or the journal is stopped.
func (j *Journal) Record(direction string, msg netcmd.Msg, relay uint8, payload []byte) bool {
	if j == nil || !j.running.Load() {
		return false
	}

	if !j.globalLimiter.Allow() {
		j.droppedCount.Add(1)
		return false
	}

	h := msg.Base()
	if !j.playerLimiters.Allow(h.PlayerID) {
		j.droppedCount.Add(1)
		return false
	}

	entry := Entry{
		Version:   EntryVersion,
		Session:   j.session,
		Timestamp: time.Now().UnixNano(),
		Direction: direction,
		Type:      msg.Type().String(),
		Frame:     h.ExecutionFrame,
		Player:    h.PlayerID,
		CommandID: h.ID,
		Relay:     relay,
		Payload:   append([]byte(nil), payload...),
	}

	j.bufferMu.Lock()
	j.writeHead++
	if j.writeHead-j.readHead > BufferSize {
		// Drop oldest entries under flood
		j.readHead++
		j.droppedCount.Add(1)
	}
	entry.Sequence = j.writeHead
	j.buffer[j.writeHead%BufferSize] = entry
	j.bufferMu.Unlock()

	j.totalCount.Add(1)
	return true
}

// writerLoop batches and writes entries to disk asynchronously
func (j *Journal) writerLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, BatchFlushSize)
	for {
		select {
		case <-j.stopChan:
			for {
				batch = j.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				j.flushBatch(batch)
			}

		case <-ticker.C:
			batch = j.collectBatch(batch[:0])
			if len(batch) > 0 {
				j.flushBatch(batch)
			}
		}
	}
}

// collectBatch reads available entries from the circular buffer
func (j *Journal) collectBatch(batch []Entry) []Entry {
	j.bufferMu.Lock()
	defer j.bufferMu.Unlock()

	for j.readHead < j.writeHead && len(batch) < BatchFlushSize {
		j.readHead++
		batch = append(batch, j.buffer[j.readHead%BufferSize])
	}
	return batch
}

// flushBatch writes entries as newline-delimited JSON
func (j *Journal) flushBatch(batch []Entry) {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.file == nil {
		return
	}

	w := bufio.NewWriter(j.file)
	for _, entry := range batch {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	w.Flush()
}

// Stats returns journal counters for the admin API
func (j *Journal) Stats() map[string]interface{} {
	j.bufferMu.Lock()
	pending := j.writeHead - j.readHead
	j.bufferMu.Unlock()

	return map[string]interface{}{
		"session": j.session,
		"total":   j.totalCount.Load(),
		"dropped": j.droppedCount.Load(),
		"pending": pending,
		"running": j.running.Load(),
		"path":    j.filePath,
	}
}

// Read parses a journal file written by a Journal.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("journal line %d: %w", line, err)
		}
		if e.Version > EntryVersion {
			return entries, fmt.Errorf("journal line %d: version %d is newer than %d", line, e.Version, EntryVersion)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
