// Package middleware wraps job handlers run by the in-process worker pool.
// Each middleware runs synchronously around the handler and may alter the
// context or the returned error.
package middleware

import (
	"context"

	"github.com/getshortzy/clipqueue/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It must call next unless it short-circuits
// with an error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware so that the first one is the outermost:
//
//	Chain(recover, logging, timeout) runs recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error { return mw(ctx, j, inner) }
		}
		return h(ctx)
	}
}

type jobKey struct{}

// WithJob stores j in ctx.
func WithJob(ctx context.Context, j *job.Job) context.Context {
	return context.WithValue(ctx, jobKey{}, j)
}

// JobFromContext returns the job being executed, if any.
func JobFromContext(ctx context.Context) (*job.Job, bool) {
	j, ok := ctx.Value(jobKey{}).(*job.Job)
	return j, ok
}

// Inject makes the executing job available to handlers through
// JobFromContext.
func Inject() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(WithJob(ctx, j))
	}
}
