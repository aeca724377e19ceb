// Package metrics exposes the pipeline's operational counters on the
// default Prometheus registry, served at /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConversationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convoscope_conversations_processed_total",
		Help: "Conversations run through the pipeline, by outcome.",
	}, []string{"outcome"})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convoscope_parse_errors_total",
		Help: "Parse-local errors recovered during message parsing.",
	})

	// PatternDrift should stay near zero in production. A sustained rise
	// means the platform's message repr has drifted from the patterns the
	// parser knows.
	PatternDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convoscope_parser_pattern_drift_total",
		Help: "Message contents where none of the expected patterns matched.",
	})

	PromptsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convoscope_system_prompts_detected_total",
		Help: "System prompts detected and stripped, by detection method.",
	}, []string{"method"})

	DuplicatesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convoscope_tool_duplicates_removed_total",
		Help: "Redundant tool-execution records folded during normalization.",
	})

	ExportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convoscope_export_failures_total",
		Help: "Export documents that could not be written to the object store.",
	})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convoscope_pipeline_duration_seconds",
		Help:    "Wall-clock time to process one conversation end to end.",
		Buckets: prometheus.DefBuckets,
	})
)
