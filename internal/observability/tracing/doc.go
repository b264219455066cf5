// Package tracing wires OpenTelemetry for the pipeline. Use cases start
// spans with GetTracer; the ops router wraps requests with Middleware.
package tracing
