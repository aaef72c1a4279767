package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the Prometheus collectors the agent core emits.
// Construct one with NewMetrics; all collectors are safe for concurrent use.
// The Agent, provider adapters and tool Executor do not take a Metrics;
// cmd/lace updates it from agent events in its session sink.
type Metrics struct {
	// TurnDuration measures wall time from turn_start to idle.
	// Labels: outcome (completed|aborted|error)
	TurnDuration *prometheus.HistogramVec

	// TurnsTotal counts completed turns by outcome.
	TurnsTotal *prometheus.CounterVec

	// ProviderRequestDuration measures a single provider call's latency.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestsTotal counts provider calls by provider/model/status.
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderRetryAttempts counts retry attempts by provider.
	ProviderRetryAttempts *prometheus.CounterVec

	// TokensTotal tracks prompt/completion token usage.
	// Labels: provider, model, kind (prompt|completion)
	TokensTotal *prometheus.CounterVec

	// BudgetUtilization is the most recent used/effectiveLimit ratio per thread.
	BudgetUtilization *prometheus.GaugeVec

	// ToolExecutionDuration measures a single tool call's latency.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionsTotal counts tool calls by tool and outcome.
	ToolExecutionsTotal *prometheus.CounterVec

	// QueueDepth is the current MessageQueue length per agent.
	QueueDepth *prometheus.GaugeVec

	// CompactionsTotal counts compaction runs by outcome (summarised|truncated).
	CompactionsTotal *prometheus.CounterVec
}

// NewMetrics registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with package-level
// global state across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lace_turn_duration_seconds",
			Help:    "Duration of an agent turn from turn_start to idle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lace_turns_total",
			Help: "Total turns by outcome.",
		}, []string{"outcome"}),

		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lace_provider_request_duration_seconds",
			Help:    "Duration of a single provider call.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ProviderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lace_provider_requests_total",
			Help: "Total provider calls by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		ProviderRetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lace_provider_retry_attempts_total",
			Help: "Total retry attempts issued before a provider call succeeded or was exhausted.",
		}, []string{"provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lace_tokens_total",
			Help: "Total tokens accounted for by provider, model, and kind.",
		}, []string{"provider", "model", "kind"}),

		BudgetUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lace_budget_utilization_ratio",
			Help: "used / effectiveLimit for the most recent TokenBudget reading, per thread.",
		}, []string{"thread_id"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lace_tool_execution_duration_seconds",
			Help:    "Duration of a single tool execution.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		ToolExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lace_tool_executions_total",
			Help: "Total tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lace_queue_depth",
			Help: "Current MessageQueue length per agent.",
		}, []string{"agent_id"}),

		CompactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lace_compactions_total",
			Help: "Total compaction runs by outcome.",
		}, []string{"outcome"}),
	}
}
