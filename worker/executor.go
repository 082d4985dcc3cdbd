// Package worker is the optional in-process executor. A Pool consumes
// notifications, gates them through the limiter, runs the registered
// handler through middleware, and reports every status change back
// through the queue so the store stays the single source of truth.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/middleware"
	"github.com/getshortzy/clipqueue/policy"
	"github.com/getshortzy/clipqueue/queue"
)

// Reporter receives status changes and retry requests. queue.Manager
// implements it.
type Reporter interface {
	RecordStatus(ctx context.Context, cb queue.Callback) (bool, error)
	RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, bool, error)
}

var _ Reporter = (*queue.Manager)(nil)

// Executor runs a single job and reports its outcome.
type Executor struct {
	registry *job.Registry
	reporter Reporter
	mw       middleware.Middleware
	logger   *slog.Logger

	mu      sync.Mutex
	retries map[id.JobID]*time.Timer
}

// NewExecutor creates an Executor.
func NewExecutor(registry *job.Registry, reporter Reporter, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		reporter: reporter,
		mw:       middleware.Chain(mws...),
		logger:   logger,
		retries:  make(map[id.JobID]*time.Timer),
	}
}

// Execute claims j by reporting it running, runs the handler, and reports
// the outcome. A job that cannot be claimed (cancelled, already claimed by
// a duplicate delivery, or deleted) is skipped without error. A failed job
// is retried after its policy backoff while attempts remain.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	claimed, err := e.reporter.RecordStatus(ctx, queue.Callback{JobID: j.ID, Status: job.StateRunning})
	switch {
	case errors.Is(err, clipqueue.ErrJobNotFound), errors.Is(err, clipqueue.ErrInvalidTransition):
		e.logger.Debug("skipping job that can no longer start",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", err.Error()),
		)
		return nil
	case err != nil:
		return fmt.Errorf("claim job %s: %w", j.ID, err)
	case !claimed:
		return nil
	}
	j.State = job.StateRunning

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		reason := fmt.Sprintf("no handler registered for job type %q", j.Type)
		e.report(ctx, j, job.StateFailed, reason)
		return errors.New(reason)
	}

	runErr := e.mw(ctx, j, func(ctx context.Context) error { return handler(ctx, j) })
	if runErr == nil {
		e.report(ctx, j, job.StateCompleted, "")
		return nil
	}

	e.report(ctx, j, job.StateFailed, runErr.Error())
	e.scheduleRetry(j)
	return runErr
}

// report records a terminal status. The context may already be cancelled
// by a timeout, so the report uses a detached one.
func (e *Executor) report(ctx context.Context, j *job.Job, to job.State, reason string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.reporter.RecordStatus(ctx, queue.Callback{JobID: j.ID, Status: to, Error: reason}); err != nil {
		e.logger.Error("failed to record job status",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(to)),
			slog.String("error", err.Error()),
		)
		return
	}
	j.State = to
}

// scheduleRetry arms a timer that re-enqueues j after its backoff delay.
func (e *Executor) scheduleRetry(j *job.Job) {
	rp := policy.LimitsFor(j.Type).Retry
	if !rp.CanRetry(j.Attempt) {
		e.logger.Warn("job exhausted its attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.Int("attempt", j.Attempt),
			slog.Int("max_attempts", rp.MaxAttempts),
		)
		return
	}
	delay := rp.Backoff().Delay(j.Attempt)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries[j.ID] = time.AfterFunc(delay, func() { e.retry(j.ID) })
	e.logger.Info("job retry scheduled",
		slog.String("job_id", j.ID.String()),
		slog.Int("attempt", j.Attempt),
		slog.Duration("delay", delay),
	)
}

func (e *Executor) retry(jobID id.JobID) {
	e.mu.Lock()
	_, pending := e.retries[jobID]
	delete(e.retries, jobID)
	e.mu.Unlock()
	if !pending {
		return
	}
	if _, _, err := e.reporter.RetryJob(context.Background(), jobID); err != nil {
		e.logger.Error("job retry failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// PendingRetries returns how many retries are waiting for their backoff.
func (e *Executor) PendingRetries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.retries)
}

// FlushRetries stops every backoff timer and re-enqueues the waiting jobs
// at once, so no failed job is stranded by a shutdown.
func (e *Executor) FlushRetries() {
	e.mu.Lock()
	ids := make([]id.JobID, 0, len(e.retries))
	for jobID, t := range e.retries {
		if t.Stop() {
			ids = append(ids, jobID)
		}
	}
	e.mu.Unlock()

	for _, jobID := range ids {
		e.retry(jobID)
	}
}
