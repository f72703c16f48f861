package deadletter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "deadletter",
			Name:      "captures_total",
			Help:      "Dead-letter records captured",
		},
		[]string{"dependency", "kind"},
	)

	captureFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "deadletter",
			Name:      "capture_failures_total",
			Help:      "Dead-letter records that could not be persisted",
		},
		[]string{"dependency"},
	)
)

func recordCapture(dependency, kind string) {
	capturesTotal.WithLabelValues(dependency, kind).Inc()
}

func recordCaptureFailure(dependency string) {
	captureFailuresTotal.WithLabelValues(dependency).Inc()
}
