package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet"
	"github.com/panjf2000/gnet/pkg/pool/goroutine"

	"generals-net/internal/config"
	"generals-net/internal/metrics"
)

// UDP receives packets on a gnet event server and sends them from a plain
// packet socket. Peers are identified by the player id in each command, not
// by source address, so replies need not come from the listening port.
type UDP struct {
	*gnet.EventServer
	pool *goroutine.Pool

	cfg   config.TransportConfig
	inbox chan Datagram

	out     net.PacketConn
	addrsMu sync.Mutex
	addrs   map[string]*net.UDPAddr

	ready     chan struct{}
	serveCh   chan error
	once      sync.Once
	boundAddr atomic.Value // string

	// inboxMu orders deliveries from pool workers against Close.
	inboxMu sync.RWMutex
	closed  atomic.Bool

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewUDP creates a UDP transport listening on cfg.ListenAddr
// (e.g. "udp://:8088").
func NewUDP(cfg config.TransportConfig) *UDP {
	if !strings.Contains(cfg.ListenAddr, "://") {
		cfg.ListenAddr = "udp://" + cfg.ListenAddr
	}
	return &UDP{
		pool:    goroutine.Default(),
		cfg:     cfg,
		inbox:   make(chan Datagram, DefaultInboxSize),
		addrs:   make(map[string]*net.UDPAddr),
		ready:   make(chan struct{}),
		serveCh: make(chan error, 1),
	}
}

// Start runs the event server and waits until it is listening.
func (u *UDP) Start(ctx context.Context) error {
	out, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return fmt.Errorf("open send socket: %w", err)
	}
	u.out = out

	go func() {
		u.serveCh <- gnet.Serve(u, u.cfg.ListenAddr,
			gnet.WithMulticore(u.cfg.Multicore),
			gnet.WithReusePort(true))
	}()

	select {
	case <-u.ready:
	case err := <-u.serveCh:
		out.Close()
		return fmt.Errorf("listen %s: %w", u.cfg.ListenAddr, err)
	case <-ctx.Done():
		u.Close()
		return ctx.Err()
	}

	go func() {
		<-ctx.Done()
		u.Close()
	}()
	return nil
}

// OnInitComplete implements gnet.EventHandler.
func (u *UDP) OnInitComplete(srv gnet.Server) (action gnet.Action) {
	u.boundAddr.Store(srv.Addr.String())
	log.Printf("📡 UDP transport listening on %s (multi-core: %t)", srv.Addr.String(), srv.Multicore)
	close(u.ready)
	return
}

// React implements gnet.EventHandler. gnet reuses packet after React
// returns, so it is copied before being handed to the pool.
func (u *UDP) React(packet []byte, c gnet.Conn) (out []byte, action gnet.Action) {
	if u.closed.Load() {
		return
	}
	d := Datagram{From: c.RemoteAddr().String(), Data: append([]byte(nil), packet...)}
	u.received.Add(1)
	u.handoff(d)
	return
}

// handoff delivers d to the inbox from a pool worker. A datagram the pool
// or the inbox cannot take is counted as dropped.
func (u *UDP) handoff(d Datagram) {
	err := u.pool.Submit(func() {
		u.inboxMu.RLock()
		defer u.inboxMu.RUnlock()
		if u.closed.Load() {
			return
		}
		select {
		case u.inbox <- d:
		default:
			u.dropped.Add(1)
			metrics.RecordDatagramDropped("inbox_full")
		}
	})
	if err != nil {
		if n := u.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Printf("⚠️ UDP worker pool rejected datagram from %s: %v (%d dropped)", d.From, err, n)
		}
		metrics.RecordDatagramDropped("pool")
	}
}

// Send writes data to addr ("host:port").
func (u *UDP) Send(addr string, data []byte) error {
	if u.closed.Load() || u.out == nil {
		return ErrClosed
	}
	dst, err := u.resolve(addr)
	if err != nil {
		return err
	}
	if _, err := u.out.WriteTo(data, dst); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

func (u *UDP) resolve(addr string) (*net.UDPAddr, error) {
	u.addrsMu.Lock()
	defer u.addrsMu.Unlock()
	if a, ok := u.addrs[addr]; ok {
		return a, nil
	}
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownPeer, addr, err)
	}
	u.addrs[addr] = a
	return a, nil
}

// Inbox implements Transport.
func (u *UDP) Inbox() <-chan Datagram { return u.inbox }

// Addr returns the bound address once listening, otherwise the configured
// address without its scheme.
func (u *UDP) Addr() string {
	if a, ok := u.boundAddr.Load().(string); ok {
		return a
	}
	_, addr, _ := strings.Cut(u.cfg.ListenAddr, "://")
	return addr
}

// Stats returns packets received and packets dropped before delivery.
func (u *UDP) Stats() (received, dropped uint64) {
	return u.received.Load(), u.dropped.Load()
}

// Close stops the event server and the worker pool.
func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		u.inboxMu.Lock()
		u.closed.Store(true)
		close(u.inbox)
		u.inboxMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if stopErr := gnet.Stop(ctx, u.cfg.ListenAddr); stopErr != nil {
			log.Printf("⚠️ UDP transport stop: %v", stopErr)
		}
		if u.out != nil {
			err = u.out.Close()
		}
		u.pool.Release()
		log.Printf("📡 UDP transport on %s stopped", u.Addr())
	})
	return err
}
