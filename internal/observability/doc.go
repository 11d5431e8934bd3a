// Package observability provides monitoring and debugging capabilities for
// the loam runtime through metrics, structured logging, and distributed
// tracing.
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured slog-based logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// Metrics cover workflow runs, plan steps, LLM requests and token usage,
// tool executions, HTTP traffic, and workflow store queries. All metric
// names carry the loam_ prefix.
//
// Logging extracts correlation IDs (request, conversation, workflow) from
// the context and redacts API keys, tokens, and passwords before emission.
//
// Tracing is disabled unless an OTLP endpoint is configured; without one a
// no-op tracer is returned so call sites need no conditional logic.
package observability
