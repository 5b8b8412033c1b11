// Package metrics defines the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequests counts chat completion calls by outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "llm_requests_total",
		Help:      "Chat completion requests issued to the LLM provider.",
	}, []string{"outcome"})

	// ToolExecutions counts tool dispatches by tool name and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "tool_executions_total",
		Help:      "Tool executions requested by the model.",
	}, []string{"tool", "outcome"})

	// ChunksIngested counts chunks written to the knowledge base.
	ChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "knowledge_chunks_ingested_total",
		Help:      "Chunks embedded and upserted into the knowledge base.",
	})

	// ConverseDuration observes end-to-end orchestration loop latency.
	ConverseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assistant",
		Name:      "converse_duration_seconds",
		Help:      "End-to-end latency of one orchestration loop run.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
