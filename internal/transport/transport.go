// Package transport moves encoded lockstep packets between peers.
//
// A transport is addressed by opaque strings (host:port for UDP, socket
// paths for streams, names for the in-process hub) and delivers whole
// packets. Delivery is unreliable; the lockstep layer acks and resends.
package transport

import (
	"context"
	"errors"
	"fmt"

	"generals-net/internal/config"
)

var (
	ErrClosed      = errors.New("transport: closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrInboxFull   = errors.New("transport: inbox full")
)

// DefaultInboxSize is the number of undelivered packets a transport buffers
// before dropping new ones.
const DefaultInboxSize = 1024

// Datagram is one received packet.
type Datagram struct {
	From string
	Data []byte
}

// Transport sends and receives packets.
type Transport interface {
	// Start begins receiving. The transport closes itself when ctx ends.
	Start(ctx context.Context) error
	// Send delivers data to addr. data may be reused once Send returns.
	Send(addr string, data []byte) error
	// Inbox yields received packets. It is closed by Close.
	Inbox() <-chan Datagram
	// Addr is the address peers send to.
	Addr() string
	Close() error
}

// New builds the transport selected by cfg.
func New(cfg config.TransportConfig) (Transport, error) {
	switch cfg.Kind {
	case "udp":
		return NewUDP(cfg), nil
	case "stream":
		return NewStream(cfg.ListenAddr), nil
	case "inproc":
		return NewHub().Endpoint(cfg.ListenAddr, DefaultInboxSize), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}
