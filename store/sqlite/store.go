package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // register sqlite migration executor
	"github.com/xraph/grove/migrate"

	"github.com/getshortzy/clipqueue/store"
)

var _ store.Store = (*Store)(nil)

// Store is a grove ORM implementation of store.Store using the SQLite
// dialect.
type Store struct {
	db     *grove.DB
	sdb    *sqlitedriver.SqliteDB
	logger *slog.Logger
	// owned is set by Open; Close then closes db.
	owned bool

	// SQLite admits one writer at a time and shared-cache databases
	// report table locks instead of waiting on them.
	mu sync.RWMutex
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db. The caller owns the db lifecycle; Close
// leaves it open.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		sdb:    sqlitedriver.Unwrap(db),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// memorySeq names in-memory databases so each Open gets its own.
var memorySeq atomic.Int64

// Open opens or creates the database at path and returns a store that owns
// it. The parent directory is created when missing. ":memory:" opens a
// private in-memory database that lives until Close.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	var dsn string
	if path == ":memory:" {
		dsn = fmt.Sprintf("file:clipqueue-%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", memorySeq.Add(1))
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("clipqueue/sqlite: create database directory: %w", err)
		}
		q := url.Values{"_pragma": {"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"}}
		dsn = "file:" + path + "?" + q.Encode()
	}

	drv, err := grove.OpenDriver(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/sqlite: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clipqueue/sqlite: ping: %w", err)
	}

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("clipqueue/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("clipqueue/sqlite: migration failed: %w", err)
	}
	s.logger.Debug("sqlite migrations applied", slog.String("group", "clipqueue"))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
