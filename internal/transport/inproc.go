package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Hub connects in-process endpoints. It backs tests and games where every
// player runs in one process.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*Inproc

	// Drop, when set, is consulted for every packet; returning true loses it.
	Drop func(from, to string, data []byte) bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]*Inproc)}
}

// Endpoint registers a new endpoint at addr, replacing any previous one.
func (h *Hub) Endpoint(addr string, inboxSize int) *Inproc {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	e := &Inproc{
		hub:   h,
		addr:  addr,
		inbox: make(chan Datagram, inboxSize),
	}

	h.mu.Lock()
	if old, ok := h.endpoints[addr]; ok {
		old.closeLocked()
	}
	h.endpoints[addr] = e
	h.mu.Unlock()
	return e
}

// Inproc is one hub endpoint.
type Inproc struct {
	hub    *Hub
	addr   string
	inbox  chan Datagram
	closed atomic.Bool

	dropped atomic.Uint64
}

// Start implements Transport.
func (e *Inproc) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	go func() {
		<-ctx.Done()
		e.Close()
	}()
	return nil
}

// Send copies data into the inbox of the endpoint at addr.
func (e *Inproc) Send(addr string, data []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}

	h := e.hub
	h.mu.RLock()
	defer h.mu.RUnlock()

	dst, ok := h.endpoints[addr]
	if !ok || dst.closed.Load() {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	if h.Drop != nil && h.Drop(e.addr, addr, data) {
		return nil
	}

	select {
	case dst.inbox <- Datagram{From: e.addr, Data: append([]byte(nil), data...)}:
		return nil
	default:
		dst.dropped.Add(1)
		return ErrInboxFull
	}
}

// Inbox implements Transport.
func (e *Inproc) Inbox() <-chan Datagram { return e.inbox }

// Addr implements Transport.
func (e *Inproc) Addr() string { return e.addr }

// Dropped returns how many packets were lost to a full inbox.
func (e *Inproc) Dropped() uint64 { return e.dropped.Load() }

// Close removes the endpoint from the hub and closes its inbox.
func (e *Inproc) Close() error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endpoints[e.addr] == e {
		delete(h.endpoints, e.addr)
	}
	e.closeLocked()
	return nil
}

func (e *Inproc) closeLocked() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.inbox)
	}
}
