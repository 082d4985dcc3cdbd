package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/getshortzy/clipqueue/cron"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/store"
)

// Compile-time interface checks.
var (
	_ store.Store = (*Store)(nil)
	_ cron.Locker = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithScanBatch sets how many hashes list and count queries fetch per
// pipeline round trip.
func WithScanBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanBatch = n
		}
	}
}

// Store implements store.Store backed by Redis.
type Store struct {
	client    redis.Cmdable
	logger    *slog.Logger
	scanBatch int
	// owner is written into lock keys so an instance only releases locks
	// it holds.
	owner string
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		scanBatch: 200,
		owner:     id.NewWorkerID().String(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate loads the Lua scripts into the server script cache. Redis is
// otherwise schemaless.
func (s *Store) Migrate(ctx context.Context) error {
	for _, script := range []*redis.Script{createScript, transitionScript, releaseScript} {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("clipqueue/redis: load script: %w", err)
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("clipqueue/redis: ping: %w", err)
	}
	return nil
}

// Close is a no-op. The caller owns the Redis client.
func (s *Store) Close() error { return nil }
