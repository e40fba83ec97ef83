// Package metrics holds the prometheus metrics for the lockstep and save
// layers. Labels are bounded: command types, save codes and snapshot types
// come from closed enums, never from peers or file names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lockstep command metrics
	commandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_commands_sent_total",
		Help: "Commands queued for sending",
	}, []string{"type"})

	commandsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_commands_received_total",
		Help: "Commands decoded from peers",
	}, []string{"type"})

	commandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_commands_dropped_total",
		Help: "Commands discarded on receipt",
	}, []string{"reason"}) // Bounded: "stale_frame", "decode", "duplicate", "unknown_slot"

	commandsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_commands_live",
		Help: "Commands still held by at least one queue",
	})

	resendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_resends_total",
		Help: "Commands retransmitted after the ack timeout",
	})

	frameResendRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_frame_resend_requests_total",
		Help: "Frame resend requests issued",
	})

	runAheadFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_run_ahead_frames",
		Help: "Current negotiated run-ahead",
	})

	frameRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_frame_rate",
		Help: "Current negotiated logic frame rate",
	})

	// Packet metrics
	packetBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lockstep_packet_bytes",
		Help:    "Encoded packet size",
		Buckets: []float64{32, 64, 128, 256, 476, 1024},
	}, []string{"direction"}) // Bounded: "in", "out"

	chunksReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_wrapped_commands_total",
		Help: "Large commands reassembled from wrapper chunks",
	})

	// Save game metrics
	saveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gamestate_xfer_duration_seconds",
		Help:    "Time spent in a full save, load or crc pass",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"mode"}) // Bounded: "save", "load", "crc"

	saveResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamestate_results_total",
		Help: "Save and load outcomes by save code",
	}, []string{"op", "code"})

	// Chat
	chatRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rejected_total",
		Help: "Chat lines dropped by the flood guard",
	})

	// Transport
	datagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transport_datagrams_dropped_total",
		Help: "Received datagrams discarded before reaching the session",
	}, []string{"reason"})
)

// RecordCommandSent counts an outgoing command
func RecordCommandSent(commandType string) {
	commandsSent.WithLabelValues(commandType).Inc()
}

// RecordCommandReceived counts an incoming command
func RecordCommandReceived(commandType string) {
	commandsReceived.WithLabelValues(commandType).Inc()
}

// RecordCommandDropped counts a discarded command
// reason must be one of: "stale_frame", "decode", "duplicate", "unknown_slot"
func RecordCommandDropped(reason string) {
	commandsDropped.WithLabelValues(reason).Inc()
}

// AddLiveCommands adjusts the live command gauge
func AddLiveCommands(delta int) {
	commandsLive.Add(float64(delta))
}

// RecordResend counts a retransmission
func RecordResend() {
	resendsTotal.Inc()
}

// RecordFrameResendRequest counts a frame resend request
func RecordFrameResendRequest() {
	frameResendRequests.Inc()
}

// UpdateRunAhead updates the negotiated scheduling gauges
func UpdateRunAhead(runAhead, fps int) {
	runAheadFrames.Set(float64(runAhead))
	frameRate.Set(float64(fps))
}

// RecordPacket records a packet size
// direction must be "in" or "out"
func RecordPacket(direction string, size int) {
	packetBytes.WithLabelValues(direction).Observe(float64(size))
}

// RecordReassembled counts a reassembled wrapped command
func RecordReassembled() {
	chunksReassembled.Inc()
}

// RecordXfer records the duration of a full xfer pass
func RecordXfer(mode string, duration time.Duration) {
	saveDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSaveResult counts a save or load outcome
func RecordSaveResult(op, code string) {
	saveResults.WithLabelValues(op, code).Inc()
}

// RecordChatRejected counts a flood-guarded chat line
func RecordChatRejected() {
	chatRejected.Inc()
}

// RecordDatagramDropped counts a received datagram that was discarded
// reason must be one of: "inbox_full", "pool"
func RecordDatagramDropped(reason string) {
	datagramsDropped.WithLabelValues(reason).Inc()
}
