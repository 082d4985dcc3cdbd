// Package middleware provides composable middleware for the in-process
// worker pool.
//
// Middleware compose with [Chain]; the first one in the list is the
// outermost wrapper:
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	    middleware.Timeout(logger),
//	    middleware.Inject(),
//	)
//
// # Built-in Middleware
//
//   - [Recover] converts handler panics into errors
//   - [Logging] logs start, duration, and outcome
//   - [Timeout] enforces the per-type timeout from the policy tables
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records execution duration and outcome counters
//   - [Inject] exposes the job to handlers via [JobFromContext]
package middleware
