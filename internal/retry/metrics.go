package retry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of dependency call attempts",
		},
		[]string{"dependency", "attempt"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "retry",
			Name:      "outcomes_total",
			Help: "Final outcomes of retried dependency calls " +
				"(success, permanent, exhausted)",
		},
		[]string{"dependency", "outcome"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "retry",
			Name:      "call_duration_seconds",
			Help:      "Total duration of a dependency call including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"dependency", "outcome"},
	)

	backoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "retry",
			Name:      "backoff_duration_seconds",
			Help:      "Duration of backoff waits between attempts",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"dependency", "attempt"},
	)
)

func recordAttempt(dependency string, attempt int) {
	attemptsTotal.WithLabelValues(dependency, strconv.Itoa(attempt)).Inc()
}

func recordOutcome(dependency, outcome string, elapsed time.Duration) {
	outcomesTotal.WithLabelValues(dependency, outcome).Inc()
	callDuration.WithLabelValues(dependency, outcome).Observe(elapsed.Seconds())
}

func recordBackoff(dependency string, attempt int, delay time.Duration) {
	backoffDuration.WithLabelValues(dependency, strconv.Itoa(attempt)).
		Observe(delay.Seconds())
}
