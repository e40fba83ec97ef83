package transport

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"generals-net/internal/config"
)

func receive(t *testing.T, tr Transport) Datagram {
	t.Helper()
	select {
	case d, ok := <-tr.Inbox():
		if !ok {
			t.Fatal("Expected a packet, inbox closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for packet")
	}
	return Datagram{}
}

// TestInprocDelivery tests that hub endpoints exchange copies of packets
func TestInprocDelivery(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a", 4)
	b := hub.Endpoint("b", 4)

	data := []byte{1, 2, 3}
	if err := a.Send("b", data); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	data[0] = 9

	d := receive(t, b)
	if d.From != "a" || d.Data[0] != 1 || len(d.Data) != 3 {
		t.Errorf("Expected copy of [1 2 3] from a, got %v from %s", d.Data, d.From)
	}

	if err := a.Send("nobody", data); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("Expected ErrUnknownPeer, got %v", err)
	}
}

// TestInprocBackpressure tests that a full inbox drops instead of blocking
func TestInprocBackpressure(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a", 1)
	b := hub.Endpoint("b", 1)

	a.Send("b", []byte{1})
	if err := a.Send("b", []byte{2}); !errors.Is(err, ErrInboxFull) {
		t.Errorf("Expected ErrInboxFull, got %v", err)
	}
	if b.Dropped() != 1 {
		t.Errorf("Expected 1 dropped packet, got %d", b.Dropped())
	}
}

// TestInprocDropHook tests simulated packet loss
func TestInprocDropHook(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a", 4)
	b := hub.Endpoint("b", 4)
	hub.Drop = func(from, to string, data []byte) bool { return data[0] == 0 }

	a.Send("b", []byte{0})
	a.Send("b", []byte{7})
	if d := receive(t, b); d.Data[0] != 7 {
		t.Errorf("Expected only the second packet, got %v", d.Data)
	}
}

// TestInprocCloseOnContext tests that cancelling the start context closes the inbox
func TestInprocCloseOnContext(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a", 4)
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-a.Inbox():
		if ok {
			t.Error("Expected closed inbox")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for close")
	}
	if err := a.Send("a", []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// TestStreamRoundTrip tests framed packets over local sockets
func TestStreamRoundTrip(t *testing.T) {
	dir := t.TempDir()
	addrA, addrB := filepath.Join(dir, "a.sock"), filepath.Join(dir, "b.sock")
	if runtime.GOOS == "windows" {
		addrA, addrB = "127.0.0.1:18461", "127.0.0.1:18462"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := NewStream(addrA), NewStream(addrB)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start a failed: %v", err)
	}
	defer a.Close()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start b failed: %v", err)
	}
	defer b.Close()

	for i := byte(0); i < 3; i++ {
		if err := a.Send(addrB, []byte{i, i + 1}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	for i := byte(0); i < 3; i++ {
		if d := receive(t, b); d.Data[0] != i {
			t.Errorf("Expected packet %d in order, got %v", i, d.Data)
		}
	}

	if err := a.Ping(addrB); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, pongs, _ := a.Stats(); pongs == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected a pong")
}

// TestUDPRoundTrip tests the gnet transport on loopback
func TestUDPRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping UDP socket test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.TransportConfig{Kind: "udp", ListenAddr: "udp://127.0.0.1:0"}
	a, b := NewUDP(cfg), NewUDP(cfg)
	if err := a.Start(ctx); err != nil {
		t.Skipf("UDP unavailable: %v", err)
	}
	defer a.Close()
	if err := b.Start(ctx); err != nil {
		t.Skipf("UDP unavailable: %v", err)
	}
	defer b.Close()

	if err := a.Send(b.Addr(), []byte("lockstep")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if d := receive(t, b); string(d.Data) != "lockstep" {
		t.Errorf("Expected lockstep, got %q", d.Data)
	}
	if received, _ := b.Stats(); received != 1 {
		t.Errorf("Expected 1 received packet, got %d", received)
	}
}

// TestUDPCountsPoolRejections tests that datagrams the worker pool refuses are counted
func TestUDPCountsPoolRejections(t *testing.T) {
	u := NewUDP(config.TransportConfig{Kind: "udp", ListenAddr: "udp://127.0.0.1:0"})
	u.pool.Release()

	u.handoff(Datagram{From: "127.0.0.1:9", Data: []byte("late")})
	u.handoff(Datagram{From: "127.0.0.1:9", Data: []byte("later")})

	if _, dropped := u.Stats(); dropped != 2 {
		t.Errorf("Expected 2 dropped datagrams, got %d", dropped)
	}
	select {
	case d := <-u.Inbox():
		t.Errorf("Expected empty inbox, got %q", d.Data)
	default:
	}
}

// TestNewSelectsKind tests transport selection from config
func TestNewSelectsKind(t *testing.T) {
	tr, err := New(config.TransportConfig{Kind: "inproc", ListenAddr: "solo"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tr.Addr() != "solo" {
		t.Errorf("Expected addr solo, got %s", tr.Addr())
	}
	if _, err := New(config.TransportConfig{Kind: "carrier-pigeon"}); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
