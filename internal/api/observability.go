package api

import (
	"log"
	"net"
	"net/http"

	"generals-net/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartDebugServer serves pprof and prometheus metrics in the background.
// The listener is moved to localhost unless cfg.AllowExternal is set, since
// pprof profiles are expensive to produce.
func StartDebugServer(cfg config.DebugConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !cfg.AllowExternal && !isLoopback(cfg.ListenAddr) {
		log.Printf("⚠️ Debug server forced to localhost (was %s)", cfg.ListenAddr)
		cfg.ListenAddr = config.DefaultDebug().ListenAddr
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	go func() {
		log.Printf("📊 Debug server on %s", ln.Addr())
		log.Printf("   - pprof:   http://%s/debug/pprof/", ln.Addr())
		log.Printf("   - metrics: http://%s/metrics", ln.Addr())

		if err := http.Serve(ln, NewDebugHandler(cfg)); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()
	return nil
}

// NewDebugHandler returns the pprof, metrics and health endpoints
func NewDebugHandler(cfg config.DebugConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.BasicAuthUser != "" {
		r.Use(middleware.BasicAuth("debug", map[string]string{
			cfg.BasicAuthUser: cfg.BasicAuthPass,
		}))
	}

	r.Mount("/debug", middleware.Profiler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	return r
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
