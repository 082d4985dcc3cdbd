package bunstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/getshortzy/clipqueue/store"
)

var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// jobIndexes are created by Migrate. where is an optional partial-index
// predicate.
var jobIndexes = []struct {
	name    string
	columns []string
	where   string
	unique  bool
}{
	{"idx_clipqueue_jobs_owner", []string{"owner_id", "created_at"}, "", false},
	{"idx_clipqueue_jobs_batch", []string{"batch_id"}, "batch_id IS NOT NULL", false},
	{"idx_clipqueue_jobs_retry_of", []string{"retry_of"}, "retry_of IS NOT NULL", true},
	{"idx_clipqueue_jobs_status", []string{"status", "created_at"}, "", false},
	{"idx_clipqueue_jobs_type", []string{"type", "created_at"}, "", false},
	{"idx_clipqueue_jobs_completed", []string{"completed_at"}, "status = 'completed'", false},
}

// Migrate creates the jobs table and its indexes from the model
// definition. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*jobModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clipqueue/bun: create jobs table: %w", err)
	}

	for _, ix := range jobIndexes {
		q := s.db.NewCreateIndex().
			Model((*jobModel)(nil)).
			Index(ix.name).
			Column(ix.columns...).
			IfNotExists()
		if ix.unique {
			q = q.Unique()
		}
		if ix.where != "" {
			q = q.Where(ix.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("clipqueue/bun: create index %s: %w", ix.name, err)
		}
	}

	s.logger.Info("schema ready", slog.String("table", "clipqueue_jobs"))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
