package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics holds Prometheus metrics for cache operations. The tier
// label distinguishes the process-local tier ("tier1") from the shared
// Redis tier ("tier2").
type CacheMetrics struct {
	hitsTotal         *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	promotionsTotal   prometheus.Counter
	sizeGauge         *prometheus.GaugeVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	compressedTotal   prometheus.Counter
}

var (
	cacheMetricsInstance *CacheMetrics
	cacheMetricsOnce     sync.Once
)

// GetCacheMetrics returns the singleton cache metrics instance.
func GetCacheMetrics() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheMetricsInstance = newCacheMetrics()
	})
	return cacheMetricsInstance
}

// MustRegister registers all cache metric collectors with the given
// Prometheus registry. promauto registers with the default global
// registry; calling MustRegister bridges the collectors onto a custom
// registry so they appear on its /metrics endpoint too.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.evictionsTotal,
		m.promotionsTotal,
		m.sizeGauge,
		m.operationDuration,
		m.errorsTotal,
		m.compressedTotal,
	)
}

// Init pre-initializes common label combinations with zero values so that
// metric lines appear immediately after startup. Prometheus *Vec types
// only emit lines after WithLabelValues() has been called at least once.
// Idempotent.
func (m *CacheMetrics) Init() {
	for _, tier := range []string{"tier1", "tier2"} {
		m.hitsTotal.WithLabelValues(tier)
		m.missesTotal.WithLabelValues(tier)
		m.evictionsTotal.WithLabelValues(tier)
		m.sizeGauge.WithLabelValues(tier)
		for _, op := range []string{"get", "set", "delete"} {
			m.operationDuration.WithLabelValues(tier, op)
			m.errorsTotal.WithLabelValues(tier, op)
		}
	}
}

func newCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		hitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "hits_total",
				Help: "Total number of " +
					"cache hits",
			},
			[]string{"tier"},
		),
		missesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "misses_total",
				Help: "Total number of " +
					"cache misses",
			},
			[]string{"tier"},
		),
		evictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "evictions_total",
				Help: "Total number of " +
					"cache evictions",
			},
			[]string{"tier"},
		),
		promotionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "promotions_total",
				Help: "Total number of entries " +
					"promoted from tier2 to tier1",
			},
		),
		sizeGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "size",
				Help: "Current number of " +
					"items in cache",
			},
			[]string{"tier"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name: "operation_duration" +
					"_seconds",
				Help: "Duration of cache " +
					"operations",
				Buckets: []float64{
					.0001, .0005, .001, .005,
					.01, .025, .05, .1,
				},
			},
			[]string{"tier", "operation"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "errors_total",
				Help: "Total number of " +
					"cache errors",
			},
			[]string{"tier", "operation"},
		),
		compressedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "cache",
				Name:      "compressed_payloads_total",
				Help: "Total number of payloads " +
					"stored compressed in tier2",
			},
		),
	}
}
