package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"generals-net/internal/config"
	"generals-net/internal/netcmd"
)

func chatFrom(slot uint8, text string) *netcmd.Chat {
	c := &netcmd.Chat{Text: text, PlayerMask: 0x6}
	c.PlayerID = slot
	c.ExecutionFrame = 12
	return c
}

// TestFloodGuardBurst tests that a player is limited after the burst
func TestFloodGuardBurst(t *testing.T) {
	g := NewFloodGuard(config.ChatConfig{MessagesPerSecond: 1, Burst: 3})
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !g.Allow(1) {
			t.Fatalf("Expected line %d to be allowed", i)
		}
	}
	if g.Allow(1) {
		t.Error("Expected fourth line to be limited")
	}
	if !g.Allow(2) {
		t.Error("Expected other player to be unaffected")
	}

	now = now.Add(time.Second)
	if !g.Allow(1) {
		t.Error("Expected a line after one second")
	}

	if removed := g.Cleanup(now.Add(time.Minute)); removed != 2 {
		t.Errorf("Expected 2 idle limiters removed, got %d", removed)
	}
}

// TestSanitize tests control character stripping and truncation
func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "gg", "gg"},
		{"control", "g\x00g\n", "gg"},
		{"spaces", "  hi  ", "hi"},
		{"long", strings.Repeat("a", MaxLineLength+10), strings.Repeat("a", MaxLineLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

// TestLineFromCommand tests conversion of both chat variants
func TestLineFromCommand(t *testing.T) {
	line, ok := LineFromCommand(chatFrom(3, "hello"))
	if !ok || line.From != 3 || line.Frame != 12 || line.Disconnect {
		t.Errorf("Unexpected chat line %+v", line)
	}
	if !line.IsFor(1) || !line.IsFor(2) || line.IsFor(3) {
		t.Errorf("Expected recipients 1 and 2, got mask %#x", line.Recipients)
	}

	dc := &netcmd.DisconnectChat{Text: "lag"}
	line, ok = LineFromCommand(dc)
	if !ok || !line.Disconnect || !line.IsFor(7) {
		t.Errorf("Expected disconnect chat for everyone, got %+v", line)
	}

	if _, ok := LineFromCommand(&netcmd.KeepAlive{}); ok {
		t.Error("Expected keep alive to be rejected")
	}
}

// TestServiceAccept tests moderation and history
func TestServiceAccept(t *testing.T) {
	names := func(slot uint8) string { return fmt.Sprintf("player%d", slot) }
	s := NewService(config.ChatConfig{MessagesPerSecond: 1, Burst: 2, HistorySize: 3}, nil, names)

	line, err := s.Accept(chatFrom(1, " hi "))
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if line.Text != "hi" || line.FromName != "player1" {
		t.Errorf("Expected sanitized named line, got %+v", line)
	}

	if _, err := s.Accept(chatFrom(1, "\n")); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
	if _, err := s.Accept(&netcmd.KeepAlive{}); !errors.Is(err, ErrNotChat) {
		t.Errorf("Expected ErrNotChat, got %v", err)
	}

	s.Accept(chatFrom(1, "two"))
	if _, err := s.Accept(chatFrom(1, "three")); !errors.Is(err, ErrFlood) {
		t.Errorf("Expected ErrFlood, got %v", err)
	}
}

// TestServiceRecentWraps tests that history keeps the newest lines in order
func TestServiceRecentWraps(t *testing.T) {
	s := NewService(config.ChatConfig{MessagesPerSecond: 100, Burst: 100, HistorySize: 3}, nil, nil)
	if got := s.Recent(0); len(got) != 0 {
		t.Errorf("Expected empty history, got %d lines", len(got))
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Accept(chatFrom(uint8(i), fmt.Sprintf("line%d", i))); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}

	got := s.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(got))
	}
	for i, want := range []string{"line2", "line3", "line4"} {
		if got[i].Text != want {
			t.Errorf("Expected %s at %d, got %s", want, i, got[i].Text)
		}
	}

	if last := s.Recent(1); len(last) != 1 || last[0].Text != "line4" {
		t.Errorf("Expected newest line, got %+v", last)
	}
}

// TestQueueDispatch tests that queued lines reach every handler
func TestQueueDispatch(t *testing.T) {
	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(4)

	record := func(line Line) {
		mu.Lock()
		got = append(got, line.Text)
		mu.Unlock()
		wg.Done()
	}
	q := NewQueue(DefaultQueueConfig(), record, record)
	q.Start()

	q.Enqueue(Line{Text: "a"})
	q.Enqueue(Line{Text: "b"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for dispatch")
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, "") != "aabb" {
		t.Errorf("Expected aabb, got %v", got)
	}
	if stats := q.Stats(); stats.Processed != 2 || stats.Enqueued != 2 {
		t.Errorf("Expected 2 processed, got %+v", stats)
	}
}

// TestQueueFullDrops tests that a full queue drops instead of blocking
func TestQueueFullDrops(t *testing.T) {
	q := NewQueue(QueueConfig{BufferSize: 1, Workers: 1})
	if !q.Enqueue(Line{Text: "a"}) {
		t.Fatal("Expected first line to be queued")
	}
	if q.Enqueue(Line{Text: "b"}) {
		t.Error("Expected second line to be dropped")
	}
	if q.Stats().Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", q.Stats().Dropped)
	}
}
