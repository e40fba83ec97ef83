package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"generals-net/internal/chat"
	"generals-net/internal/gamestate"
	"generals-net/internal/metrics"
	"generals-net/internal/ratelimit"

	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal caps admin websocket clients
	MaxWSConnectionsTotal = 64

	// MaxWSConnectionsPerIP caps clients from one address
	MaxWSConnectionsPerIP = 4

	wsSendBuffer = 32
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingEvery  = wsPongWait * 9 / 10
	wsReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		metrics.RecordConnectionRejected("origin")
		return false
	},
}

// wsEvent is the envelope of every pushed message.
type wsEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// wsClient is one connected admin client. The hub owns send and closes it
// when the client is dropped.
type wsClient struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// WebSocketHub pushes session, save and chat events to admin clients.
// Clients only listen.
type WebSocketHub struct {
	clients    map[*wsClient]struct{}
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex

	perIP *ratelimit.Slots[string]

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub creates a hub. Nothing runs until Run.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		perIP:      ratelimit.NewSlots[string](MaxWSConnectionsPerIP),
		stopChan:   make(chan struct{}),
	}
}

// Stop ends Run and the broadcast loop and disconnects every client.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Run owns the client set until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			metrics.SetWSConnections(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client connected from %s (%d total)", c.ip, count)
			metrics.SetWSConnections(count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.dropLocked(c)
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client disconnected (%d remaining)", count)
			metrics.SetWSConnections(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					log.Printf("⚠️ Dropping slow websocket client %s", c.ip)
					h.dropLocked(c)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetWSConnections(count)
		}
	}
}

// dropLocked removes c; the write pump closes the connection.
func (h *WebSocketHub) dropLocked(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	h.perIP.Release(c.ip)
}

// Broadcast queues an event for every client. Events are dropped while
// the broadcast queue is full.
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	payload, err := json.Marshal(wsEvent{Event: event, Data: data})
	if err != nil {
		log.Printf("❌ Encoding %s event failed: %v", event, err)
		return
	}

	select {
	case h.broadcast <- payload:
		metrics.RecordWSEvent(event)
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop pushes session stats every interval while clients
// are connected.
func (h *WebSocketHub) StartBroadcastLoop(session SessionSource, interval time.Duration) {
	if session == nil {
		return
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stopChan:
				return
			case <-ticker.C:
			}
			if h.ClientCount() > 0 {
				h.Broadcast("session:stats", session.Stats())
			}
		}
	}()
}

// BroadcastSave announces a save written through the API
func (h *WebSocketHub) BroadcastSave(filename string, info gamestate.SaveGameInfo) {
	h.Broadcast("save:written", toSaveJSON(filename, info))
}

// ChatHandler returns a chat queue handler that pushes every line to clients
func (h *WebSocketHub) ChatHandler() chat.Handler {
	return func(line chat.Line) {
		h.Broadcast("chat:line", line)
	}
}

// HandleWebSocket upgrades an admin client after the connection caps pass.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.perIP.Acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade failed: %v", err)
		h.perIP.Release(ip)
		return
	}

	c := &wsClient{conn: conn, ip: ip, send: make(chan []byte, wsSendBuffer)}
	select {
	case h.register <- c:
	case <-h.stopChan:
		h.perIP.Release(ip)
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// writePump sends queued events and pings until the hub drops c.
func (h *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unregisters c when the
// connection ends.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopChan:
		}
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		log.Printf("📨 WebSocket message from %s ignored", c.ip)
	}
}
