// Prometheus metrics instrumentation for the newsroom pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_stage_executions_total",
			Help: "Total number of envelopes processed by stage services",
		},
		[]string{"stage", "status"}, // status: ok, error, dropped, duplicate
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsroom_stage_duration_seconds",
			Help:    "Stage processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// ENVELOPE METRICS
// =============================================================================

var (
	envelopesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_envelopes_published_total",
			Help: "Total number of envelopes published to the bus",
		},
		[]string{"subject", "status"}, // status: ok, error
	)

	revisionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_revision_outcomes_total",
			Help: "Verifier decisions per draft evaluation",
		},
		[]string{"outcome"}, // outcome: accepted, revised, forced
	)
)

// =============================================================================
// CAPABILITY METRICS
// =============================================================================

var (
	capabilityCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_capability_calls_total",
			Help: "Total number of capability invocations",
		},
		[]string{"kind", "method", "status"}, // kind: planner, generator, scorer; status: ok, error
	)

	capabilityDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsroom_capability_duration_seconds",
			Help:    "Capability call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)
)

// =============================================================================
// AGGREGATOR METRICS
// =============================================================================

var (
	conversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_conversations_total",
			Help: "Completed conversations by outcome",
		},
		[]string{"status"}, // status: complete, timeout
	)

	conversationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsroom_conversation_duration_seconds",
			Help:    "End-to-end conversation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordStageExecution records one processed envelope for a stage service.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordEnvelopePublished records one publish attempt outcome.
func RecordEnvelopePublished(subject string, status string) {
	envelopesPublishedTotal.WithLabelValues(subject, status).Inc()
}

// RecordRevisionOutcome records a verifier decision.
func RecordRevisionOutcome(outcome string) {
	revisionOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordCapabilityCall records one capability invocation.
func RecordCapabilityCall(kind string, method string, status string, durationMS int) {
	capabilityCallsTotal.WithLabelValues(kind, method, status).Inc()
	capabilityDurationSeconds.WithLabelValues(kind).Observe(float64(durationMS) / 1000.0)
}

// RecordConversation records a completed (or timed-out) conversation.
func RecordConversation(status string, durationMS int) {
	conversationsTotal.WithLabelValues(status).Inc()
	conversationDurationSeconds.WithLabelValues(status).Observe(float64(durationMS) / 1000.0)
}
