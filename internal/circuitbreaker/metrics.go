package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current circuit state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "breaker",
			Name:      "requests_total",
			Help:      "Calls checked against the circuit breaker",
		},
		[]string{"dependency", "result"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "breaker",
			Name:      "rejections_total",
			Help: "Calls rejected by an open circuit, by which layer " +
				"rejected (local, shared)",
		},
		[]string{"dependency", "layer"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "breaker",
			Name:      "outcomes_total",
			Help:      "Recorded outcomes of allowed calls",
		},
		[]string{"dependency", "outcome"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Shared circuit state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	storeFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "breaker",
			Name:      "store_fallbacks_total",
			Help:      "Operations that fell back to local-only state",
		},
		[]string{"dependency"},
	)
)

func recordAllowed(dependency string) {
	requestsTotal.WithLabelValues(dependency, "allowed").Inc()
}

func recordRejection(dependency, layer string) {
	requestsTotal.WithLabelValues(dependency, "rejected").Inc()
	rejectionsTotal.WithLabelValues(dependency, layer).Inc()
}

func recordOutcome(dependency string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	outcomesTotal.WithLabelValues(dependency, outcome).Inc()
}

func recordTransition(dependency string, from, to State) {
	transitionsTotal.WithLabelValues(dependency, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(dependency).Set(float64(to))
}

func recordStoreFallback(dependency string) {
	storeFallbacksTotal.WithLabelValues(dependency).Inc()
}
