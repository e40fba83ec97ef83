package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"generals-net/internal/wire"
)

// Stream connection settings
const (
	StreamWriteTimeout = 50 * time.Millisecond
	StreamReadTimeout  = 100 * time.Millisecond
)

// Stream carries packets over local stream sockets (Unix domain sockets,
// localhost TCP on Windows), one framed packet per wire frame. It suits
// several game processes on one host.
type Stream struct {
	addr     string
	listener net.Listener
	inbox    chan Datagram

	connsMu  sync.Mutex
	inbound  map[net.Conn]struct{}
	outbound map[string]net.Conn

	// inboxMu orders deliveries from read loops against Close.
	inboxMu sync.RWMutex
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	received atomic.Int64
	pongs    atomic.Int64
	failures atomic.Int64
}

// NewStream creates a stream transport listening at addr.
func NewStream(addr string) *Stream {
	return &Stream{
		addr:     addr,
		inbox:    make(chan Datagram, DefaultInboxSize),
		inbound:  make(map[net.Conn]struct{}),
		outbound: make(map[string]net.Conn),
		stopCh:   make(chan struct{}),
	}
}

// Start implements Transport.
func (s *Stream) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil // Already running
	}

	listener, err := listenStream(s.addr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stopCh:
		}
	}()

	log.Printf("📡 Stream transport started on %s", streamAddress(s.addr))
	return nil
}

// Send frames data to the peer at addr, dialing it on first use.
func (s *Stream) Send(addr string, data []byte) error {
	return s.write(addr, wire.FramePacket, data)
}

// Ping asks the peer at addr to answer with a pong.
func (s *Stream) Ping(addr string) error {
	return s.write(addr, wire.FramePing, nil)
}

func (s *Stream) write(addr string, frameType byte, data []byte) error {
	if !s.running.Load() {
		return ErrClosed
	}
	conn, err := s.dial(addr)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(StreamWriteTimeout))
	if err := wire.WriteFrame(conn, frameType, data); err != nil {
		s.dropOutbound(addr, conn)
		s.failures.Add(1)
		return err
	}
	return nil
}

func (s *Stream) dial(addr string) (net.Conn, error) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	if conn, ok := s.outbound[addr]; ok {
		return conn, nil
	}
	conn, err := dialStream(addr)
	if err != nil {
		return nil, errors.Join(ErrUnknownPeer, err)
	}
	s.outbound[addr] = conn

	// Pongs come back on the outbound connection.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
		s.dropOutbound(addr, conn)
	}()
	return conn, nil
}

func (s *Stream) dropOutbound(addr string, conn net.Conn) {
	s.connsMu.Lock()
	if s.outbound[addr] == conn {
		delete(s.outbound, addr)
	}
	s.connsMu.Unlock()
	conn.Close()
}

// acceptLoop accepts peer connections
func (s *Stream) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return // Expected during shutdown
			}
			log.Printf("⚠️ Stream accept error: %v", err)
			continue
		}

		s.connsMu.Lock()
		s.inbound[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.readLoop(conn)
			s.connsMu.Lock()
			delete(s.inbound, conn)
			s.connsMu.Unlock()
			conn.Close()
		}()
	}
}

// readLoop reads frames until the connection fails or the transport stops
func (s *Stream) readLoop(conn net.Conn) {
	var from string
	if ra := conn.RemoteAddr(); ra != nil {
		from = ra.String()
	}
	for s.running.Load() {
		conn.SetReadDeadline(time.Now().Add(StreamReadTimeout))

		frameType, data, err := wire.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.Printf("⚠️ Stream read error: %v", err)
			s.failures.Add(1)
			return
		}

		switch frameType {
		case wire.FramePacket:
			s.deliver(Datagram{From: from, Data: data})
		case wire.FramePing:
			conn.SetWriteDeadline(time.Now().Add(StreamWriteTimeout))
			wire.WriteFrame(conn, wire.FramePong, nil)
		case wire.FramePong:
			s.pongs.Add(1)
		}
	}
}

func (s *Stream) deliver(d Datagram) {
	s.inboxMu.RLock()
	defer s.inboxMu.RUnlock()
	if !s.running.Load() {
		return
	}
	select {
	case s.inbox <- d:
		s.received.Add(1)
	default:
		s.failures.Add(1)
	}
}

// Inbox implements Transport.
func (s *Stream) Inbox() <-chan Datagram { return s.inbox }

// Addr implements Transport.
func (s *Stream) Addr() string { return s.addr }

// Stats returns packets received, pongs received and errors.
func (s *Stream) Stats() (received, pongs, errs int64) {
	return s.received.Load(), s.pongs.Load(), s.failures.Load()
}

// Close stops the transport and closes every connection.
func (s *Stream) Close() error {
	s.inboxMu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.inboxMu.Unlock()
		return nil // Not running
	}
	close(s.inbox)
	s.inboxMu.Unlock()

	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.inbound {
		conn.Close()
	}
	for _, conn := range s.outbound {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	cleanupSocket(s.addr)
	log.Printf("📡 Stream transport on %s stopped", streamAddress(s.addr))
	return nil
}
