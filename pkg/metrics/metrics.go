package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	FrameCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbridge_frames_total",
		Help: "The total number of frames handled, by side, wire protocol and status",
	}, []string{"bridge", "side", "protocol", "status"})

	ChecksumErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbridge_checksum_errors_total",
		Help: "The total number of frames dropped for LRC/CRC mismatch",
	}, []string{"bridge", "side"})

	TransactionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbridge_transactions_total",
		Help: "The total number of bridged transactions, by outcome",
	}, []string{"bridge", "outcome"})

	TimeoutCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbridge_timeouts_total",
		Help: "The total number of device timeouts answered with a synthesized exception",
	}, []string{"bridge"})

	// Gauges
	ActiveBridges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modbridge_active_bridges",
		Help: "The number of bridges currently running",
	})
)

// Side constants
const (
	SideNear = "near" // where requests arrive
	SideFar  = "far"  // where the device answers
)

// Status constants
const (
	StatusOK      = "ok"
	StatusDropped = "dropped"
)

// Outcome constants
const (
	OutcomeAnswered = "answered"
	OutcomeTimedOut = "timed_out"
	OutcomeFailed   = "failed"
)

// IncFrame increments the frame counter.
func IncFrame(bridge, side, protocol, status string) {
	FrameCount.WithLabelValues(bridge, side, protocol, status).Inc()
}

// IncChecksumError increments the checksum error counter.
func IncChecksumError(bridge, side string) {
	ChecksumErrors.WithLabelValues(bridge, side).Inc()
}

// IncTransaction increments the transaction counter.
func IncTransaction(bridge, outcome string) {
	TransactionCount.WithLabelValues(bridge, outcome).Inc()
}

// IncTimeout increments the synthesized-timeout counter.
func IncTimeout(bridge string) {
	TimeoutCount.WithLabelValues(bridge).Inc()
}
