// Package observability provides an OpenTelemetry metrics extension for
// storemesh. MetricsExtension implements lifecycle hooks to record
// system-wide counters for submissions, reconciliation markers, query
// cache outcomes and task settlement.
//
// For per-run tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
