package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

const jobColumns = `
	id, type, status, priority, tier, owner_id, related_entity_id,
	payload, payload_version, batch_id, attempt, retry_of, error,
	started_at, completed_at, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clipqueue_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17
		)`,
		j.ID.String(), string(j.Type), string(j.State), j.Priority, j.Tier, j.OwnerID, j.RelatedEntityID,
		j.Payload, j.PayloadVersion, j.BatchID, j.Attempt, j.RetryOf, j.Error,
		j.StartedAt, j.CompletedAt, j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return clipqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("clipqueue/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM clipqueue_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, clipqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("clipqueue/postgres: get job: %w", err)
	}
	return j, nil
}

// TransitionJob applies t with a single conditional UPDATE. When no row
// matches, a follow-up existence check tells a missing job from a lost
// race.
func (s *Store) TransitionJob(ctx context.Context, t job.Transition) (*job.Job, error) {
	at := t.At.UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE clipqueue_jobs SET
			status       = $3,
			updated_at   = $4,
			started_at   = COALESCE(started_at, $4),
			completed_at = CASE WHEN $5 THEN $4 ELSE completed_at END,
			error        = CASE WHEN $3 = 'failed' THEN $6 ELSE error END
		WHERE id = $1 AND status = $2
		RETURNING `+jobColumns,
		t.JobID.String(), string(t.From), string(t.To), at, t.To.Terminal(), t.Error,
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("clipqueue/postgres: transition job: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM clipqueue_jobs WHERE id = $1)`, t.JobID.String(),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("clipqueue/postgres: transition job exists: %w", err)
	}
	if !exists {
		return nil, clipqueue.ErrJobNotFound
	}
	return nil, clipqueue.ErrStateConflict
}

// ListJobs returns jobs matching f, oldest first.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	cond, args := where(f)
	query := `SELECT ` + jobColumns + ` FROM clipqueue_jobs` + cond +
		` ORDER BY created_at ASC, id COLLATE "C" ASC`
	query, args = page(query, args, f)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching f.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	cond, args := where(f)

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM clipqueue_jobs`+cond, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("clipqueue/postgres: count jobs: %w", err)
	}
	return count, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM clipqueue_jobs WHERE status = 'completed' AND completed_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("clipqueue/postgres: delete completed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		idStr    string
		typeStr  string
		stateStr string
	)
	err := row.Scan(
		&idStr, &typeStr, &stateStr, &j.Priority, &j.Tier, &j.OwnerID, &j.RelatedEntityID,
		&j.Payload, &j.PayloadVersion, &j.BatchID, &j.Attempt, &j.RetryOf, &j.Error,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Type = job.Type(typeStr)
	j.State = job.State(stateStr)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utcPtr(j.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("clipqueue/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clipqueue/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
