package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Workflow runs by terminal status and step throughput
//   - LLM request performance, token usage, and error rates
//   - Tool execution patterns and latencies
//   - HTTP API request/response metrics
//   - Workflow store query performance
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.WorkflowStarted()
//	defer metrics.WorkflowEnded("done", time.Since(start).Seconds())
type Metrics struct {
	// WorkflowCounter counts completed workflow runs.
	// Labels: status (done|error|timeout|cancelled)
	WorkflowCounter *prometheus.CounterVec

	// WorkflowDuration measures end-to-end workflow run time in seconds.
	// Labels: status
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	WorkflowDuration *prometheus.HistogramVec

	// ActiveWorkflows is a gauge tracking currently running workflows.
	ActiveWorkflows prometheus.Gauge

	// StepCounter counts executed plan steps.
	// Labels: status (success|failed|skipped)
	StepCounter *prometheus.CounterVec

	// RePlanCounter counts plan adjustments applied during reflection.
	RePlanCounter prometheus.Counter

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (ollama|openai|anthropic), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (agent|workflow|tool|provider|store), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// StoreQueryDuration measures workflow store query latency.
	// Labels: operation (save|get|list)
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	StoreQueryDuration *prometheus.HistogramVec

	// StoreQueryCounter counts workflow store queries.
	// Labels: operation, status (success|error)
	StoreQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are registered with Prometheus's default registry and will be
// available at the /metrics endpoint when using the prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		WorkflowCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_workflows_total",
				Help: "Total number of workflow runs by terminal status",
			},
			[]string{"status"},
		),

		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loam_workflow_duration_seconds",
				Help:    "End-to-end duration of workflow runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),

		ActiveWorkflows: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "loam_active_workflows",
				Help: "Current number of running workflows",
			},
		),

		StepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_workflow_steps_total",
				Help: "Total number of executed plan steps by status",
			},
			[]string{"status"},
		),

		RePlanCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loam_workflow_replans_total",
				Help: "Total number of plan adjustments applied during reflection",
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loam_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loam_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loam_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		StoreQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loam_store_query_duration_seconds",
				Help:    "Duration of workflow store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		StoreQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loam_store_queries_total",
				Help: "Total number of workflow store queries",
			},
			[]string{"operation", "status"},
		),
	}
}

// WorkflowStarted increments the active workflows gauge.
func (m *Metrics) WorkflowStarted() {
	m.ActiveWorkflows.Inc()
}

// WorkflowEnded decrements the active workflows gauge and records the
// terminal status and run duration.
//
// Example:
//
//	start := time.Now()
//	// ... run workflow ...
//	metrics.WorkflowEnded("done", time.Since(start).Seconds())
func (m *Metrics) WorkflowEnded(status string, durationSeconds float64) {
	m.ActiveWorkflows.Dec()
	m.WorkflowCounter.WithLabelValues(status).Inc()
	m.WorkflowDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordStep increments the step counter for a given outcome.
func (m *Metrics) RecordStep(status string) {
	m.StepCounter.WithLabelValues(status).Inc()
}

// RecordRePlan increments the re-plan counter.
func (m *Metrics) RecordRePlan() {
	m.RePlanCounter.Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("ollama", "llama3.2", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("read_file", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("provider", "rate_limit")
//	metrics.RecordError("tool", "timeout")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("POST", "/api/chat", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordStoreQuery records metrics for a workflow store query.
//
// Example:
//
//	start := time.Now()
//	// ... execute store query ...
//	metrics.RecordStoreQuery("save", "success", time.Since(start).Seconds())
func (m *Metrics) RecordStoreQuery(operation, status string, durationSeconds float64) {
	m.StoreQueryCounter.WithLabelValues(operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}
