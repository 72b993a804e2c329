// Package metrics provides Prometheus metrics for rag-dialog.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragdialog"

var (
	// AskTotal counts ask pipeline outcomes.
	AskTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_total",
			Help:      "Total number of ask requests by outcome",
		},
		[]string{"outcome"},
	)

	// HistoryFailuresTotal counts history store failures that were tolerated.
	HistoryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_failures_total",
			Help:      "Total number of history store failures",
		},
		[]string{"operation"},
	)

	// UpstreamDuration measures calls to embedding, vector and generation services.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Duration of upstream calls in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"dependency", "status"},
	)

	// UpstreamRetriesTotal counts retried upstream calls.
	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total number of upstream call retries",
		},
		[]string{"dependency"},
	)

	// IngestChunksTotal counts chunks handled by the ingestion CLI.
	IngestChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Total number of ingested chunks by status",
		},
		[]string{"status"},
	)
)

// Recorder adapts the package-level collectors to the usecase observer interfaces.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() Recorder {
	return Recorder{}
}

// RecordAskOutcome records how an ask request ended.
func (Recorder) RecordAskOutcome(outcome string) {
	AskTotal.WithLabelValues(outcome).Inc()
}

// RecordHistoryFailure records a tolerated history store failure.
func (Recorder) RecordHistoryFailure(operation string) {
	HistoryFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordUpstream records the duration and result of an upstream call.
func (Recorder) RecordUpstream(dependency string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	UpstreamDuration.WithLabelValues(dependency, status).Observe(duration.Seconds())
}

// RecordRetry records a retried upstream call.
func (Recorder) RecordRetry(dependency string) {
	UpstreamRetriesTotal.WithLabelValues(dependency).Inc()
}

// RecordIngestedChunks records ingested chunks.
func (Recorder) RecordIngestedChunks(status string, n int) {
	IngestChunksTotal.WithLabelValues(status).Add(float64(n))
}
