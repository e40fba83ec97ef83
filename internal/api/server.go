package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"generals-net/internal/gamestate"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	session        SessionSource
	router         *chi.Mux
	wsHub          *WebSocketHub
	rateLimiter    *IPRateLimiter
	broadcastEvery time.Duration
	httpServer     *http.Server
}

// NewServer creates a new API server. hub may be nil; passing one lets
// other components (the chat queue) push events before the server exists.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg RouterConfig, hub *WebSocketHub, broadcastEvery time.Duration) *Server {
	if hub == nil {
		hub = NewWebSocketHub()
	}
	if broadcastEvery <= 0 {
		broadcastEvery = 500 * time.Millisecond
	}
	s := &Server{
		session:        cfg.Session,
		wsHub:          hub,
		broadcastEvery: broadcastEvery,
	}

	// Create rate limiter (we track it for cleanup)
	if cfg.RateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		cfg.RateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	s.rateLimiter = cfg.RateLimiter

	onSave := cfg.OnSaveWritten
	cfg.OnSaveWritten = func(filename string, info gamestate.SaveGameInfo) {
		hub.BroadcastSave(filename, info)
		if onSave != nil {
			onSave(filename, info)
		}
	}

	// Build router using the factory
	s.router = NewRouter(cfg)

	// Add WebSocket routes (these need the wsHub instance)
	s.setupWebSocketRoutes()

	return s
}

// setupWebSocketRoutes adds WebSocket-specific routes to the router.
// These routes need access to the wsHub instance, so they can't be
// part of the generic NewRouter factory.
func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/ws", s.handleWS)
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
// It blocks until the server stops; Shutdown returns it with nil.
func (s *Server) Start(addr string) error {
	// Start background workers NOW, not in constructor
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.session, s.broadcastEvery)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("💾 Saves:   http://localhost%s/api/saves", addr)
	log.Printf("📡 Session: http://localhost%s/api/session", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown performs graceful shutdown of the listener and background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wsHub.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}
