package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/getshortzy/clipqueue/cron"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/store"
)

// Collection name constants.
const (
	colJobs  = "clipqueue_jobs"
	colLocks = "clipqueue_locks"
)

// Compile-time interface checks.
var (
	_ store.Store = (*Store)(nil)
	_ cron.Locker = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store. The caller owns the
// database handle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	owner  string
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		owner:  id.NewWorkerID().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for the clipqueue collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("clipqueue/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("clipqueue/mongo: ping: %w", err)
	}
	return nil
}

// Close is a no-op because the caller owns the client.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

func (s *Store) jobs() *mongod.Collection { return s.db.Collection(colJobs) }

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// List order.
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
			// Per-owner history and rate-limit counts.
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}},
			// Batch membership.
			{
				Keys:    bson.D{{Key: "batch_id", Value: 1}},
				Options: options.Index().SetPartialFilterExpression(bson.M{"batch_id": bson.M{"$gt": ""}}),
			},
			// At most one retry per source job.
			{
				Keys: bson.D{{Key: "retry_of", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"retry_of": bson.M{"$gt": ""}}),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}}},
			// Retention cleanup.
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "completed_at", Value: 1}}},
		},
		colLocks: {
			{Keys: bson.D{{Key: "locked_until", Value: 1}}},
		},
	}
}
