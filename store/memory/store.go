// Package memory implements store.Store in process memory. It is safe for
// concurrent use and intended for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs in a map guarded by a single RWMutex. Every read returns
// a copy so callers can never mutate stored state.
type Store struct {
	mu   sync.RWMutex
	jobs map[id.JobID]*job.Job
	// retries maps a source job to its single retry.
	retries map[id.JobID]id.JobID
	closed  bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[id.JobID]*job.Job),
		retries: make(map[id.JobID]id.JobID),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return clipqueue.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later operations return ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// CreateJob persists a copy of j.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return clipqueue.ErrStoreClosed
	}
	if _, exists := m.jobs[j.ID]; exists {
		return clipqueue.ErrJobAlreadyExists
	}
	if !j.RetryOf.IsNil() {
		if _, retried := m.retries[j.RetryOf]; retried {
			return clipqueue.ErrJobAlreadyExists
		}
		m.retries[j.RetryOf] = j.ID
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

// GetJob returns a copy of the job.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, clipqueue.ErrStoreClosed
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, clipqueue.ErrJobNotFound
	}
	return j.Clone(), nil
}

// TransitionJob applies t under the write lock.
func (m *Store) TransitionJob(_ context.Context, t job.Transition) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, clipqueue.ErrStoreClosed
	}
	j, ok := m.jobs[t.JobID]
	if !ok {
		return nil, clipqueue.ErrJobNotFound
	}
	if j.State != t.From {
		return nil, clipqueue.ErrStateConflict
	}
	j.Apply(t)
	return j.Clone(), nil
}

// ListJobs returns matching jobs oldest first.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, clipqueue.ErrStoreClosed
	}

	var out []*job.Job
	for _, j := range m.jobs {
		if f.Matches(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})

	out = paginate(out, f.Offset, f.Limit)
	for i, j := range out {
		out[i] = j.Clone()
	}
	return out, nil
}

// CountJobs counts matching jobs.
func (m *Store) CountJobs(_ context.Context, f job.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, clipqueue.ErrStoreClosed
	}
	var n int64
	for _, j := range m.jobs {
		if f.Matches(j) {
			n++
		}
	}
	return n, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
func (m *Store) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, clipqueue.ErrStoreClosed
	}
	var n int64
	for key, j := range m.jobs {
		if j.State == job.StateCompleted && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, key)
			if !j.RetryOf.IsNil() {
				delete(m.retries, j.RetryOf)
			}
			n++
		}
	}
	return n, nil
}

func paginate(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
