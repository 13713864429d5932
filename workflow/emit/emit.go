// Package emit provides pluggable workflow.Emitter backends: structured
// logging, OpenTelemetry tracing, Prometheus metrics, an in-memory
// buffer for tests, and a no-op default.
package emit
