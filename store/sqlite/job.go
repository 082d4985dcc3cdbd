package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toJobModel(j)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return clipqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("clipqueue/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := new(jobModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, clipqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("clipqueue/sqlite: get job: %w", err)
	}
	return fromJobModel(m)
}

// TransitionJob applies t with a conditional UPDATE ... RETURNING.
func (s *Store) TransitionJob(ctx context.Context, t job.Transition) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := nanos(t.At)
	var models []jobModel
	err := s.sdb.NewRaw(`
		UPDATE clipqueue_jobs SET
			status       = ?,
			updated_at   = ?,
			started_at   = COALESCE(started_at, ?),
			completed_at = CASE WHEN ? THEN ? ELSE completed_at END,
			error        = CASE WHEN ? THEN ? ELSE error END
		WHERE id = ? AND status = ?
		RETURNING *`,
		string(t.To), at, at,
		t.To.Terminal(), at,
		t.To == job.StateFailed, t.Error,
		t.JobID.String(), string(t.From),
	).Scan(ctx, &models)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("clipqueue/sqlite: transition job: %w", err)
	}
	if len(models) == 1 {
		return fromJobModel(&models[0])
	}

	n, err := s.sdb.NewSelect((*jobModel)(nil)).
		Where("id = ?", t.JobID.String()).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: transition job exists: %w", err)
	}
	if n == 0 {
		return nil, clipqueue.ErrJobNotFound
	}
	return nil, clipqueue.ErrStateConflict
}

// ListJobs returns jobs matching f, oldest first.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var models []jobModel
	q := s.sdb.NewSelect(&models)
	for _, c := range conditions(f) {
		q = q.Where(c.expr, c.args...)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	switch {
	case f.Limit > 0:
		q = q.Limit(f.Limit)
	case f.Offset > 0:
		// SQLite requires a LIMIT before OFFSET.
		q = q.Limit(-1)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	if err := q.Scan(ctx); err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("clipqueue/sqlite: list jobs: %w", err)
	}
	jobs, err := fromJobModels(models)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: list jobs convert: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching f.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := s.sdb.NewSelect((*jobModel)(nil))
	for _, c := range conditions(f) {
		q = q.Where(c.expr, c.args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("clipqueue/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sdb.NewDelete((*jobModel)(nil)).
		Where("status = ?", string(job.StateCompleted)).
		Where("completed_at < ?", nanos(cutoff)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("clipqueue/sqlite: delete completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clipqueue/sqlite: delete completed jobs: %w", err)
	}
	return n, nil
}

// condition is one WHERE predicate with its arguments.
type condition struct {
	expr string
	args []any
}

// conditions renders the predicates of f.
func conditions(f job.Filter) []condition {
	var conds []condition
	in := func(column string, values []string) {
		marks := make([]string, len(values))
		args := make([]any, len(values))
		for i, v := range values {
			marks[i] = "?"
			args[i] = v
		}
		conds = append(conds, condition{column + " IN (" + strings.Join(marks, ", ") + ")", args})
	}

	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		in("status", states)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		in("type", types)
	}
	if f.OwnerID != "" {
		conds = append(conds, condition{"owner_id = ?", []any{f.OwnerID}})
	}
	if !f.BatchID.IsNil() {
		conds = append(conds, condition{"batch_id = ?", []any{f.BatchID.String()}})
	}
	if f.Standalone {
		conds = append(conds, condition{"batch_id IS NULL", nil})
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, condition{"created_at >= ?", []any{nanos(f.CreatedAfter)}})
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, condition{"created_at < ?", []any{nanos(f.CreatedBefore)}})
	}
	if !f.CompletedAfter.IsZero() {
		conds = append(conds, condition{"completed_at >= ?", []any{nanos(f.CompletedAfter)}})
	}
	return conds
}
