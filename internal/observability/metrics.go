package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the orchestration core.
//
// Collectors are registered on the Registerer passed to NewMetrics so tests
// can use an isolated registry.
type Metrics struct {
	// LLMCalls counts provider calls.
	// Labels: provider, model, status (success|failure|circuit_open)
	LLMCalls *prometheus.CounterVec

	// LLMCallDuration measures provider call latency in seconds, retries included.
	// Labels: provider, model
	LLMCallDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokens *prometheus.CounterVec

	// ToolCalls counts tool executions.
	// Labels: tool, provider, status (success|failure)
	ToolCalls *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool, provider
	ToolCallDuration *prometheus.HistogramVec

	// CircuitState reports breaker state per dependency (0 closed, 1 half-open, 2 open).
	// Labels: name
	CircuitState *prometheus.GaugeVec

	// MCPCallDuration measures MCP tools/call latency.
	// Labels: server, status
	MCPCallDuration *prometheus.HistogramVec

	// AuditDropped counts audit events dropped because the buffer was full.
	AuditDropped prometheus.Counter

	// FanoutProviderErrors counts per-provider failures during file_search fan-out.
	// Labels: provider
	FanoutProviderErrors *prometheus.CounterVec

	// RateLimitDenied counts rejected inbound messages.
	// Labels: scope (tenant|channel)
	RateLimitDenied *prometheus.CounterVec

	// InboundMessages counts processed inbound messages by outcome.
	// Labels: channel, status
	InboundMessages *prometheus.CounterVec

	// HTTPRequestDuration measures ingress latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// QueueJobs counts inbound queue jobs handled by workers.
	// Labels: status (completed|failed)
	QueueJobs *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_llm_calls_total",
				Help: "Total number of LLM calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexushub_llm_call_duration_seconds",
				Help:    "Duration of LLM calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_tool_calls_total",
				Help: "Total number of tool executions by tool, provider, and status",
			},
			[]string{"tool", "provider", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexushub_tool_call_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool", "provider"},
		),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexushub_circuit_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		MCPCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexushub_mcp_call_duration_seconds",
				Help:    "Duration of MCP tools/call requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"server", "status"},
		),

		AuditDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nexushub_audit_dropped_total",
				Help: "Audit events dropped because the buffer was full",
			},
		),

		FanoutProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_fanout_provider_errors_total",
				Help: "Per-provider failures during file search fan-out",
			},
			[]string{"provider"},
		),

		RateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_ratelimit_denied_total",
				Help: "Inbound messages rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		InboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_inbound_messages_total",
				Help: "Inbound messages processed by channel and status",
			},
			[]string{"channel", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexushub_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "path", "status_code"},
		),

		QueueJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexushub_queue_jobs_total",
				Help: "Inbound queue jobs handled by workers",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMCall records the outcome of one resilient LLM call.
func (m *Metrics) RecordLLMCall(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(provider, model, status).Inc()
	m.LLMCallDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolCall records metrics for a tool execution.
func (m *Metrics) RecordToolCall(tool, provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, provider, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool, provider).Observe(durationSeconds)
}

// SetCircuitState publishes a breaker transition. It matches the
// signature of the breaker set state-change hook.
func (m *Metrics) SetCircuitState(name, _, to string) {
	if m == nil {
		return
	}
	var v float64
	switch to {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.CircuitState.WithLabelValues(name).Set(v)
}

// RecordMCPCall records an MCP call latency.
func (m *Metrics) RecordMCPCall(server, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.MCPCallDuration.WithLabelValues(server, status).Observe(durationSeconds)
}

// AuditEventDropped increments the dropped audit counter.
func (m *Metrics) AuditEventDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// FanoutProviderFailed counts a failed fan-out branch.
func (m *Metrics) FanoutProviderFailed(provider string) {
	if m == nil {
		return
	}
	m.FanoutProviderErrors.WithLabelValues(provider).Inc()
}

// RateLimited counts a rate limit denial.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitDenied.WithLabelValues(scope).Inc()
}

// InboundProcessed counts a processed inbound message.
func (m *Metrics) InboundProcessed(channel, status string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(channel, status).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// QueueJobHandled counts a finished queue job.
func (m *Metrics) QueueJobHandled(status string) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(status).Inc()
}
