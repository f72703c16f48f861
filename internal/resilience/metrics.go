package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "calls",
			Name:      "total",
			Help: "Resilient calls by final result (hit_tier1, " +
				"hit_tier2, success, circuit_open, exhausted, " +
				"permanent, canceled, validation_error)",
		},
		[]string{"dependency", "result"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "End-to-end resilient call duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"dependency", "result"},
	)
)

func recordCall(dependency, result string, elapsed time.Duration) {
	callsTotal.WithLabelValues(dependency, result).Inc()
	callDuration.WithLabelValues(dependency, result).Observe(elapsed.Seconds())
}
