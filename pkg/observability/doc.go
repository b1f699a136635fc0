// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and health checks for the Shelf service.
//
// The Logger wraps stdlib slog with a JSON handler and context helpers so
// request-scoped fields (request ID, user ID) follow the request through
// handler and manager code. Metrics are registered against a caller-supplied
// Prometheus registry and exposed on the health listener. OpenTelemetry is
// opt-in and exports over OTLP/gRPC.
package observability
