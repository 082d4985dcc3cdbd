// Package observability records queue-wide lifecycle metrics through
// OpenTelemetry. Register [MetricsExtension] with the queue's extension
// registry to count enqueues, starts, completions, failures, cancellations,
// retries and batches, and to record executor-reported durations.
//
// Per-execution spans and metrics for the in-process worker live in the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
