package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if uniqueViolation(err) {
			return clipqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("clipqueue/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, clipqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("clipqueue/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// TransitionJob applies t with a conditional UPDATE ... RETURNING.
func (s *Store) TransitionJob(ctx context.Context, t job.Transition) (*job.Job, error) {
	at := t.At.UTC()
	m := new(jobModel)
	err := s.db.NewUpdate().Model(m).
		Set("status = ?", string(t.To)).
		Set("updated_at = ?", at).
		Set("started_at = COALESCE(started_at, ?)", at).
		Set("completed_at = CASE WHEN ? THEN ?::timestamptz ELSE completed_at END", t.To.Terminal(), at).
		Set("error = CASE WHEN ? THEN ? ELSE error END", t.To == job.StateFailed, t.Error).
		Where("id = ?", t.JobID.String()).
		Where("status = ?", string(t.From)).
		Returning("*").
		Scan(ctx)
	if err == nil {
		return fromJobModel(m)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("clipqueue/bun: transition job: %w", err)
	}

	exists, err := s.db.NewSelect().Model((*jobModel)(nil)).
		Where("id = ?", t.JobID.String()).
		Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/bun: transition job exists: %w", err)
	}
	if !exists {
		return nil, clipqueue.ErrJobNotFound
	}
	return nil, clipqueue.ErrStateConflict
}

// ListJobs returns jobs matching f, oldest first.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var models []jobModel
	q := applyFilter(s.db.NewSelect().Model(&models), f).
		OrderExpr(`created_at ASC, id COLLATE "C" ASC`)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("clipqueue/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching f.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := applyFilter(s.db.NewSelect().Model((*jobModel)(nil)), f).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("clipqueue/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("status = ?", string(job.StateCompleted)).
		Where("completed_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("clipqueue/bun: delete completed jobs: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return n, nil
}

// applyFilter adds the predicates of f to q.
func applyFilter(q *bun.SelectQuery, f job.Filter) *bun.SelectQuery {
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		q = q.Where("status IN (?)", bun.In(states))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN (?)", bun.In(types))
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if !f.BatchID.IsNil() {
		q = q.Where("batch_id = ?", f.BatchID.String())
	}
	if f.Standalone {
		q = q.Where("batch_id IS NULL")
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where("created_at >= ?", f.CreatedAfter.UTC())
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", f.CreatedBefore.UTC())
	}
	if !f.CompletedAfter.IsZero() {
		q = q.Where("completed_at >= ?", f.CompletedAfter.UTC())
	}
	return q
}

// uniqueViolation reports whether err is a PostgreSQL unique_violation,
// raised for a taken job id or a second retry of the same source.
func uniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
