package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service. All methods are
// nil-safe so components can run without metrics wired, as in tests.
type Metrics struct {
	verifications  *prometheus.CounterVec
	verifyLatency  prometheus.Histogram
	stepLatency    *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	documentsTotal *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritrust_verifications_total",
			Help: "Completed verification attempts by resulting document status.",
		}, []string{"status"}),
		verifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritrust_verification_duration_seconds",
			Help:    "End to end latency of verification attempts.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		stepLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veritrust_verification_step_duration_seconds",
			Help:    "Latency of individual verification pipeline steps.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"step"}),
		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritrust_cache_hits_total",
			Help: "Cache hits by cache type.",
		}, []string{"cache_type"}),
		cacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritrust_cache_misses_total",
			Help: "Cache misses by cache type.",
		}, []string{"cache_type"}),
		documentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritrust_documents_total",
			Help: "Document lifecycle operations by kind.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementVerification(status string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.verifyLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveStepLatency(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) IncrementCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) IncrementCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) IncrementDocumentOp(operation string) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(operation).Inc()
}
