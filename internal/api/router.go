package api

import (
	"net/http"
	"time"

	"generals-net/internal/chat"
	"generals-net/internal/gamestate"
	"generals-net/internal/lockstep"
	"generals-net/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SaveStore defines the save game methods used by the API.
// This interface enables mocking for tests without touching a save directory.
// Keep this minimal - only include methods the API layer actually calls.
type SaveStore interface {
	// AvailableGames lists readable saves, newest first
	AvailableGames() ([]gamestate.AvailableGameInfo, error)
	// SaveGameInfoFromFile reads one save's metadata
	SaveGameInfoFromFile(filename string) (gamestate.SaveGameInfo, gamestate.SaveCode)
	// SaveGame writes a save and returns the filename used
	SaveGame(filename, description string, saveType gamestate.SaveFileType, which gamestate.SnapshotType) (string, gamestate.SaveCode)
	// LoadGame loads a save
	LoadGame(game gamestate.AvailableGameInfo) gamestate.SaveCode
	// DeleteSaveGame removes a save
	DeleteSaveGame(filename string) error
	// ComputeCRC checksums a snapshot list
	ComputeCRC(which gamestate.SnapshotType) (uint32, error)
}

// SessionSource provides lockstep session statistics.
type SessionSource interface {
	Stats() lockstep.Stats
}

// ChatSource provides recent chat lines.
type ChatSource interface {
	Recent(n int) []chat.Line
}

// JournalSource provides command journal counters.
type JournalSource interface {
	Stats() map[string]interface{}
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Saves:   mockSaves,
//	    Session: mockSession,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Saves is the save game store (required)
	Saves SaveStore

	// Session is the running lockstep session (optional)
	Session SessionSource

	// Chat is the chat history (optional)
	Chat ChatSource

	// Journal is the command journal (optional)
	Journal JournalSource

	// OnSaveWritten is called after a save written through the API succeeds.
	OnSaveWritten func(filename string, info gamestate.SaveGameInfo)

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, only localhost origins are allowed.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
// This is used internally to pass handlers to route setup.
type routerHandlers struct {
	saves         SaveStore
	session       SessionSource
	chat          ChatSource
	journal       JournalSource
	onSaveWritten func(filename string, info gamestate.SaveGameInfo)
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started, except the rate limiter cleanup loop
//     when no RateLimiter is passed in
//   - No network listeners are opened
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		saves:         cfg.Saves,
		session:       cfg.Session,
		chat:          cfg.Chat,
		journal:       cfg.Journal,
		onSaveWritten: cfg.OnSaveWritten,
	}

	r.Route("/api", func(r chi.Router) {
		// Save games
		r.Get("/saves", h.handleListSaves)
		r.Post("/saves", h.handleSave)
		r.Get("/saves/{file}", h.handleGetSave)
		r.Delete("/saves/{file}", h.handleDeleteSave)
		r.Post("/saves/{file}/load", h.handleLoadSave)

		// Lockstep session
		r.Get("/session", h.handleSession)
		r.Get("/chat", h.handleChat)

		// Desync checks
		r.Get("/crc/{snapshot}", h.handleCRC)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// Default route
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/session", http.StatusFound)
	})

	return r
}

// requestMetrics records latency per route pattern, never per raw path.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
