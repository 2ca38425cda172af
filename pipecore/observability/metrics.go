// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the pipeline. Metrics register through promauto at package
// load; tracing is opt-in via InitTracer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// RUN METRICS
// =============================================================================

var (
	runExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumepipeline_run_executions_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"plan", "status"}, // status: success, error
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resumepipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"plan"},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumepipeline_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resumepipeline_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// COMPLETION METRICS
// =============================================================================

var (
	completionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumepipeline_completion_calls_total",
			Help: "Total number of completion provider calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	completionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resumepipeline_completion_duration_seconds",
			Help:    "Completion call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// LOOP METRICS
// =============================================================================

var (
	loopIterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumepipeline_loop_iterations_total",
			Help: "Total revision loop iterations",
		},
		[]string{"loop"},
	)

	loopFinalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumepipeline_loop_finalizations_total",
			Help: "Total revision loop finalizations",
		},
		[]string{"loop", "outcome"}, // outcome: clean, exhausted
	)
)

// =============================================================================
// DOCUMENT METRICS
// =============================================================================

var (
	documentFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumepipeline_document_fetches_total",
			Help: "Total document source fetches",
		},
		[]string{"format", "status"}, // status: success, not_found, error
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRunExecution records run-level metrics.
// This should be called after a run completes.
func RecordRunExecution(plan string, status string, durationMS int) {
	runExecutionsTotal.WithLabelValues(plan, status).Inc()
	runDurationSeconds.WithLabelValues(plan).Observe(float64(durationMS) / 1000.0)
}

// RecordStageExecution records stage execution metrics.
// This should be called after a stage completes.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordCompletionCall records completion provider metrics.
// This should be called after a provider call completes.
func RecordCompletionCall(provider string, model string, status string, durationMS int) {
	completionCallsTotal.WithLabelValues(provider, model, status).Inc()
	completionDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordLoopIteration records one revision loop cycle.
func RecordLoopIteration(loop string) {
	loopIterationsTotal.WithLabelValues(loop).Inc()
}

// RecordLoopFinalization records how a revision loop ended.
func RecordLoopFinalization(loop string, outcome string) {
	loopFinalizationsTotal.WithLabelValues(loop, outcome).Inc()
}

// RecordDocumentFetch records a document source fetch.
func RecordDocumentFetch(format string, status string) {
	documentFetchesTotal.WithLabelValues(format, status).Inc()
}
