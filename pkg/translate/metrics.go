package translate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider request metrics
	translationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_translation_requests_total",
			Help: "Total number of provider translation calls",
		},
		[]string{"provider", "mode", "status"},
	)

	translationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fukidashi_translation_request_duration_seconds",
			Help:    "Duration of provider translation calls in seconds, including retry waits",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"provider", "mode"},
	)

	translationBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fukidashi_translation_batch_size",
			Help:    "Number of texts sent in a single provider call",
			Buckets: []float64{1, 2, 4, 8, 12, 18, 24, 32, 64},
		},
		[]string{"provider"},
	)

	// Transport metrics
	transportRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_transport_retries_total",
			Help: "Total number of throttled requests that were retried",
		},
		[]string{"provider"},
	)

	transportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_transport_failures_total",
			Help: "Total number of requests that ended in a terminal failure",
		},
		[]string{"provider", "reason"},
	)

	// Orchestrator metrics
	chunkOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_chunk_outcomes_total",
			Help: "Total number of chunks by outcome (translated or degraded to per-fragment)",
		},
		[]string{"provider", "outcome"},
	)

	fragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_fragments_total",
			Help: "Total number of fragments returned, by final status",
		},
		[]string{"provider", "status"},
	)
)

// MetricsCollector records translation metrics for one provider.
type MetricsCollector struct {
	provider string
}

// NewMetricsCollector creates a collector labelled with the provider name.
func NewMetricsCollector(provider string) *MetricsCollector {
	if provider == "" {
		provider = "unknown"
	}
	return &MetricsCollector{provider: provider}
}

// RecordTranslationRequest records one provider call.
func (mc *MetricsCollector) RecordTranslationRequest(mode string, duration time.Duration, texts int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	translationRequestsTotal.WithLabelValues(mc.provider, mode, status).Inc()
	translationRequestDuration.WithLabelValues(mc.provider, mode).Observe(duration.Seconds())
	translationBatchSize.WithLabelValues(mc.provider).Observe(float64(texts))
}

// RecordRetry records a throttled attempt that will be retried.
func (mc *MetricsCollector) RecordRetry() {
	transportRetriesTotal.WithLabelValues(mc.provider).Inc()
}

// RecordTerminalFailure records a request that will not be retried.
func (mc *MetricsCollector) RecordTerminalFailure(reason FailureReason) {
	transportFailuresTotal.WithLabelValues(mc.provider, string(reason)).Inc()
}

// RecordChunk records whether a chunk was translated as a unit or degraded.
func (mc *MetricsCollector) RecordChunk(outcome string) {
	chunkOutcomesTotal.WithLabelValues(mc.provider, outcome).Inc()
}

// RecordFragments records the final status of every fragment in a result.
func (mc *MetricsCollector) RecordFragments(fragments []Fragment) {
	for _, f := range fragments {
		fragmentsTotal.WithLabelValues(mc.provider, string(f.Status)).Inc()
	}
}
