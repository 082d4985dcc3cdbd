package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
)

// JobStatus is the caller-facing view of a job.
type JobStatus struct {
	ID              id.JobID   `json:"id"`
	Type            job.Type   `json:"type"`
	Status          job.State  `json:"status"`
	Priority        int        `json:"priority"`
	OwnerID         string     `json:"owner_id"`
	RelatedEntityID string     `json:"related_entity_id"`
	BatchID         id.BatchID `json:"batch_id,omitzero"`
	Error           string     `json:"error,omitempty"`
	Attempt         int        `json:"attempt"`
	MaxAttempts     int        `json:"max_attempts"`
	RetryOf         id.JobID   `json:"retry_of,omitzero"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// StatusOf builds the view of j.
func StatusOf(j *job.Job) JobStatus {
	return JobStatus{
		ID:              j.ID,
		Type:            j.Type,
		Status:          j.State,
		Priority:        j.Priority,
		OwnerID:         j.OwnerID,
		RelatedEntityID: j.RelatedEntityID,
		BatchID:         j.BatchID,
		Error:           j.Error,
		Attempt:         j.Attempt,
		MaxAttempts:     policy.LimitsFor(j.Type).Retry.MaxAttempts,
		RetryOf:         j.RetryOf,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

// GetStatus returns the view of jobID. The boolean is false when no such
// job exists.
func (m *Manager) GetStatus(ctx context.Context, jobID id.JobID) (JobStatus, bool, error) {
	j, err := m.getJob(ctx, jobID)
	if err != nil || j == nil {
		return JobStatus{}, false, err
	}
	return StatusOf(j), true, nil
}

// Callback is a status report from the executor.
type Callback struct {
	JobID  id.JobID  `json:"job_id"`
	Status job.State `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// defaultFailure is stored when an executor reports failure without a
// reason.
const defaultFailure = "execution failed"

// RecordStatus applies an executor status report. It returns true when the
// transition was applied and false when the report was a harmless no-op: a
// duplicate delivery, a loss to a concurrent transition, or a report for a
// job the user already cancelled. An unknown job yields ErrJobNotFound and
// a transition the state machine forbids yields ErrInvalidTransition.
// Executors must report running before failed: pending -> failed is the
// cancellation edge and only CancelJobWithReason takes it.
func (m *Manager) RecordStatus(ctx context.Context, cb Callback) (bool, error) {
	if !cb.Status.Valid() {
		return false, clipqueue.NewValidationError("status", fmt.Sprintf("unknown status %q", cb.Status))
	}
	j, err := m.getJob(ctx, cb.JobID)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, fmt.Errorf("%w: %s", clipqueue.ErrJobNotFound, cb.JobID)
	}
	if j.State == cb.Status {
		return false, nil
	}
	if j.State == job.StatePending && cb.Status == job.StateFailed {
		return false, fmt.Errorf("%w: %s -> %s is reserved for cancellation", clipqueue.ErrInvalidTransition, j.State, cb.Status)
	}
	if !job.CanTransition(j.State, cb.Status) {
		if j.IsCancelled() {
			m.logger.Info("status report for cancelled job ignored",
				slog.String("job_id", j.ID.String()),
				slog.String("status", string(cb.Status)),
			)
			return false, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", clipqueue.ErrInvalidTransition, j.State, cb.Status)
	}

	reason := cb.Error
	if cb.Status == job.StateFailed && reason == "" {
		reason = defaultFailure
	}
	updated, err := m.store.TransitionJob(ctx, job.Transition{
		JobID: j.ID,
		From:  j.State,
		To:    cb.Status,
		Error: reason,
		At:    m.clock(),
	})
	switch {
	case errors.Is(err, clipqueue.ErrStateConflict), errors.Is(err, clipqueue.ErrJobNotFound):
		return false, nil
	case err != nil:
		return false, clipqueue.WrapStorage("transition job", err)
	}

	switch updated.State {
	case job.StateRunning:
		m.extensions.EmitJobStarted(ctx, updated)
	case job.StateCompleted:
		elapsed, _ := updated.Duration()
		m.extensions.EmitJobCompleted(ctx, updated, elapsed)
	case job.StateFailed:
		m.extensions.EmitJobFailed(ctx, updated, reason)
	}
	return true, nil
}
