// Package metrics provides Prometheus metrics for the result publishing
// subsystem: per-destination publish outcomes, send latency, and the
// number of registered destinations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishesTotal counts publish attempts per destination and outcome.
	// Labels: destination (instance name), type (variant), outcome
	// (sent/skipped_rate_limited/failed/disabled).
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infernode_publishes_total",
			Help: "Total publish attempts by destination and outcome",
		},
		[]string{"destination", "type", "outcome"},
	)

	// SendLatency tracks the duration of successful and failed send
	// attempts. Rate-limited skips and disabled destinations never reach
	// the transport and are not observed here.
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infernode_send_latency_seconds",
			Help:    "Send attempt latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms .. ~65s
		},
		[]string{"destination", "type"},
	)

	// DestinationsConfigured tracks how many destinations a publisher holds.
	DestinationsConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "infernode_destinations_configured",
			Help: "Number of destinations currently held by the publisher",
		},
	)
)

// ObserveSend records one send attempt's latency.
func ObserveSend(destination, destType string, elapsed time.Duration) {
	SendLatency.WithLabelValues(destination, destType).Observe(elapsed.Seconds())
}

// CountOutcome records one publish outcome.
func CountOutcome(destination, destType, outcome string) {
	PublishesTotal.WithLabelValues(destination, destType, outcome).Inc()
}
