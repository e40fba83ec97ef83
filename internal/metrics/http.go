package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admin API metrics. endpoint is the chi route pattern, never the raw path.
var (
	connectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Admin connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Admin API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Admin API requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Connected admin websocket clients",
	})

	wsEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_events_total",
		Help: "Events pushed to admin websocket clients",
	}, []string{"event"}) // Bounded: "session:stats", "save:written", "chat:line"
)

// RecordConnectionRejected counts a refused admin connection
func RecordConnectionRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records an admin API request
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// SetWSConnections sets the connected websocket client gauge
func SetWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordWSEvent counts one event pushed to websocket clients
func RecordWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}
