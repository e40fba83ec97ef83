package chat

import (
	"errors"
	"sync"
	"time"

	"generals-net/internal/config"
	"generals-net/internal/metrics"
	"generals-net/internal/netcmd"
)

// Errors returned by Accept.
var (
	ErrNotChat = errors.New("chat: not a chat command")
	ErrFlood   = errors.New("chat: rate limited")
	ErrEmpty   = errors.New("chat: empty line")
)

// Service moderates chat commands and keeps recent lines.
type Service struct {
	guard *FloodGuard
	queue *Queue
	names func(slot uint8) string

	mu      sync.RWMutex
	history []Line
	next    int
	full    bool
}

// NewService creates a chat service. queue and names may be nil.
func NewService(cfg config.ChatConfig, queue *Queue, names func(slot uint8) string) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = config.DefaultChat().HistorySize
	}
	return &Service{
		guard:   NewFloodGuard(cfg),
		queue:   queue,
		names:   names,
		history: make([]Line, cfg.HistorySize),
	}
}

// Accept moderates a received chat or disconnect chat command. Accepted
// lines are kept in the history and handed to the queue.
func (s *Service) Accept(msg netcmd.Msg) (Line, error) {
	line, ok := LineFromCommand(msg)
	if !ok {
		return Line{}, ErrNotChat
	}

	line.Text = Sanitize(line.Text)
	if line.Text == "" {
		return Line{}, ErrEmpty
	}
	if !s.guard.Allow(line.From) {
		metrics.RecordChatRejected()
		return Line{}, ErrFlood
	}

	if s.names != nil {
		line.FromName = s.names(line.From)
	}
	line.ReceivedAt = time.Now()

	s.mu.Lock()
	s.history[s.next] = line
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()

	if s.queue != nil {
		s.queue.Enqueue(line)
	}
	return line, nil
}

// Recent returns up to n recent lines, oldest first. n <= 0 returns all.
func (s *Service) Recent(n int) []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.next
	if s.full {
		count = len(s.history)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]Line, 0, n)
	start := s.next - n
	if start < 0 {
		start += len(s.history)
	}
	for i := 0; i < n; i++ {
		out = append(out, s.history[(start+i)%len(s.history)])
	}
	return out
}

// PlayerLeft forgets the flood state of slot.
func (s *Service) PlayerLeft(slot uint8) {
	s.guard.Forget(slot)
}
