package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/notify"
)

// CancelJob cancels a pending job with the default user message. See
// CancelJobWithReason.
func (m *Manager) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	return m.CancelJobWithReason(ctx, jobID, job.CancelledByUser)
}

// CancelJobWithReason moves a pending job to failed with reason as its
// error. It returns false without error when the job does not exist, is no
// longer pending, or was started concurrently.
func (m *Manager) CancelJobWithReason(ctx context.Context, jobID id.JobID, reason string) (bool, error) {
	j, err := m.getJob(ctx, jobID)
	if err != nil || j == nil {
		return false, err
	}
	if j.State != job.StatePending {
		return false, nil
	}

	updated, err := m.store.TransitionJob(ctx, job.Transition{
		JobID: jobID,
		From:  job.StatePending,
		To:    job.StateFailed,
		Error: reason,
		At:    m.clock(),
	})
	switch {
	case errors.Is(err, clipqueue.ErrStateConflict), errors.Is(err, clipqueue.ErrJobNotFound):
		return false, nil
	case err != nil:
		return false, clipqueue.WrapStorage("cancel job", err)
	}

	m.extensions.EmitJobCancelled(ctx, updated)
	m.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("reason", reason),
	)
	return true, nil
}

// RetryJob enqueues a fresh copy of a failed job. The copy keeps the
// source's priority, tier and batch, records the source in RetryOf and
// carries the next attempt number. The boolean is false, and no job is
// created, when the source does not exist, has not failed, or was already
// retried. Concurrent retries of one source create exactly one job.
func (m *Manager) RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, bool, error) {
	src, err := m.getJob(ctx, jobID)
	if err != nil || src == nil {
		return id.Nil, false, err
	}
	if src.State != job.StateFailed {
		return id.Nil, false, nil
	}

	retry := &job.Job{
		Entity:          clipqueue.NewEntity(m.clock()),
		ID:              id.NewJobID(),
		Type:            src.Type,
		State:           job.StatePending,
		Priority:        src.Priority,
		Tier:            src.Tier,
		OwnerID:         src.OwnerID,
		RelatedEntityID: src.RelatedEntityID,
		Payload:         append([]byte(nil), src.Payload...),
		PayloadVersion:  src.PayloadVersion,
		BatchID:         src.BatchID,
		Attempt:         src.Attempt + 1,
		RetryOf:         src.ID,
	}
	if err := m.submit(ctx, retry); err != nil {
		if errors.Is(err, clipqueue.ErrJobAlreadyExists) {
			m.logger.Debug("job already retried", slog.String("job_id", src.ID.String()))
			return id.Nil, false, nil
		}
		return id.Nil, false, err
	}
	m.extensions.EmitJobRetried(ctx, src, retry)
	m.logger.Info("job retried",
		slog.String("job_id", src.ID.String()),
		slog.String("retry_id", retry.ID.String()),
		slog.Int("attempt", retry.Attempt),
	)
	return retry.ID, true, nil
}

// Cleanup deletes completed jobs whose completion is older than
// olderThanDays days and returns how many were removed. Pending, running
// and failed jobs are never deleted.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, clipqueue.NewValidationError("older_than_days", "must not be negative")
	}
	cutoff := m.clock().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := m.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, clipqueue.WrapStorage("cleanup", err)
	}
	m.logger.Info("completed jobs cleaned up",
		slog.Int64("deleted", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}

// Renotify sends the notification again for up to limit jobs that have
// been pending for longer than olderThan, oldest first. It returns the
// number of notifications accepted. A limit of zero means no limit.
func (m *Manager) Renotify(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := m.ListJobs(ctx, job.Filter{
		States:        []job.State{job.StatePending},
		CreatedBefore: m.clock().Add(-olderThan),
		Limit:         limit,
	})
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, j := range stale {
		if err := m.notifier.Notify(ctx, notify.FromJob(j, m.clock())); err != nil {
			m.logger.Warn("renotify failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, clipqueue.ErrNotifierFull) || errors.Is(err, clipqueue.ErrNotifierClosed) {
				break
			}
			continue
		}
		sent++
	}
	if len(stale) > 0 {
		m.logger.Info("pending jobs renotified",
			slog.Int("stale", len(stale)),
			slog.Int("sent", sent),
		)
	}
	return sent, nil
}
