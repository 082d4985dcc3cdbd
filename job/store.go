package job

import (
	"context"
	"time"

	"github.com/getshortzy/clipqueue/id"
)

// Transition is a compare-and-set status update. It applies only when the
// stored state still equals From.
type Transition struct {
	JobID id.JobID
	From  State
	To    State
	// Error is stored when To is StateFailed.
	Error string
	// At stamps StartedAt/CompletedAt/UpdatedAt.
	At time.Time
}

// Filter selects jobs for list and count queries. Zero fields match
// everything.
type Filter struct {
	States  []State
	Types   []Type
	OwnerID string
	BatchID id.BatchID
	// Standalone restricts to jobs without a batch.
	Standalone bool

	CreatedAfter   time.Time
	CreatedBefore  time.Time
	CompletedAfter time.Time

	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Matches reports whether j satisfies every predicate of f. Limit and
// Offset are ignored.
func (f Filter) Matches(j *Job) bool {
	if len(f.States) > 0 && !containsState(f.States, j.State) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, j.Type) {
		return false
	}
	if f.OwnerID != "" && j.OwnerID != f.OwnerID {
		return false
	}
	if !f.BatchID.IsNil() && j.BatchID != f.BatchID {
		return false
	}
	if f.Standalone && j.InBatch() {
		return false
	}
	if !f.CreatedAfter.IsZero() && j.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !j.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.CompletedAfter.IsZero() && (j.CompletedAt == nil || j.CompletedAt.Before(f.CompletedAfter)) {
		return false
	}
	return true
}

func containsState(states []State, s State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(types []Type, t Type) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

// Store defines the persistence contract for jobs. Implementations must be
// safe for concurrent use and must serialize writes per job.
type Store interface {
	// CreateJob persists a new job. It returns ErrJobAlreadyExists when the
	// ID is taken or when j.RetryOf names a job that already has a retry.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. It returns ErrJobNotFound when absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// TransitionJob atomically moves a job from t.From to t.To and returns
	// the updated job. It returns ErrJobNotFound when the job does not
	// exist and ErrStateConflict when the stored state is not t.From.
	TransitionJob(ctx context.Context, t Transition) (*Job, error)

	// ListJobs returns jobs matching f ordered by creation time, oldest
	// first.
	ListJobs(ctx context.Context, f Filter) ([]*Job, error)

	// CountJobs returns the number of jobs matching f.
	CountJobs(ctx context.Context, f Filter) (int64, error)

	// DeleteCompletedBefore removes completed jobs whose CompletedAt is
	// before cutoff and returns how many were removed. Jobs in any other
	// state are never removed.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
