// Package metrics exposes Prometheus instrumentation for the trigger
// and correlation pipelines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceived counts events fetched from the event log, by type.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "trigger",
		Name:      "events_received_total",
		Help:      "Events consumed from the event log.",
	}, []string{"event_type"})

	// BindingMatches counts binding matches per event type.
	BindingMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "trigger",
		Name:      "binding_matches_total",
		Help:      "Bindings whose predicate matched an event.",
	}, []string{"event_type"})

	// JobsDispatched counts playbook jobs enqueued.
	JobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "trigger",
		Name:      "jobs_dispatched_total",
		Help:      "Playbook jobs enqueued after deduplication.",
	})

	// DedupConflicts counts benign already-processed skips.
	DedupConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "trigger",
		Name:      "dedup_conflicts_total",
		Help:      "Matches skipped because the (event, binding) pair already fired.",
	})

	// ExecutionsFinished counts playbook executions by terminal status.
	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "playbook",
		Name:      "executions_finished_total",
		Help:      "Playbook executions by terminal status.",
	}, []string{"status"})

	// ExecutionDuration observes end-to-end playbook run time.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "soar",
		Subsystem: "playbook",
		Name:      "execution_duration_seconds",
		Help:      "Playbook execution duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// PatternsFound counts correlation patterns by technique.
	PatternsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "correlation",
		Name:      "patterns_found_total",
		Help:      "Correlation patterns produced, by technique.",
	}, []string{"technique"})

	// SuggestionsEmitted counts incident suggestions above threshold.
	SuggestionsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "soar",
		Subsystem: "correlation",
		Name:      "suggestions_emitted_total",
		Help:      "Incident suggestions emitted to the sink.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
