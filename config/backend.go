package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/getshortzy/clipqueue/cron"
	"github.com/getshortzy/clipqueue/engine"
	"github.com/getshortzy/clipqueue/notify"
	"github.com/getshortzy/clipqueue/store"
	bunstore "github.com/getshortzy/clipqueue/store/bun"
	"github.com/getshortzy/clipqueue/store/memory"
	mongostore "github.com/getshortzy/clipqueue/store/mongo"
	"github.com/getshortzy/clipqueue/store/postgres"
	redisstore "github.com/getshortzy/clipqueue/store/redis"
	"github.com/getshortzy/clipqueue/store/sqlite"
)

// Backend is the set of connections a process runs on.
type Backend struct {
	Store store.Store
	// Notifier is nil for the in-process channel, which the engine
	// creates itself.
	Notifier notify.Notifier
	// Locker guards maintenance runs across instances. It is nil when the
	// backend cannot provide one.
	Locker cron.Locker

	closers []func() error
}

// Open connects the store, notifier, and locker selected by s and runs
// the store migrations.
func Open(ctx context.Context, s Settings, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{}

	var rdb *goredis.Client
	redisClient := func() (*goredis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		opt, err := goredis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = goredis.NewClient(opt)
		b.closers = append(b.closers, rdb.Close)
		return rdb, nil
	}

	if err := b.openStore(ctx, s, logger, redisClient); err != nil {
		_ = b.Close()
		return nil, err
	}

	if s.Notifier == NotifierRedis {
		client, err := redisClient()
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		n := notify.NewRedis(client, notify.WithStream(s.RedisStream), notify.WithRedisLogger(logger))
		if s.WorkerConcurrency > 0 {
			if err := n.EnsureGroup(ctx); err != nil {
				_ = b.Close()
				return nil, err
			}
		}
		b.Notifier = n
	}

	if err := b.Store.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("migrate %s store: %w", s.Store, err)
	}
	logger.Info("backend ready",
		slog.String("store", s.Store),
		slog.String("notifier", s.Notifier),
		slog.Bool("locker", b.Locker != nil),
	)
	return b, nil
}

func (b *Backend) openStore(ctx context.Context, s Settings, logger *slog.Logger, redisClient func() (*goredis.Client, error)) error {
	switch s.Store {
	case StoreMemory:
		b.Store = memory.New()

	case StorePostgres:
		st, err := postgres.New(ctx, s.DatabaseURL, postgres.WithLogger(logger))
		if err != nil {
			return err
		}
		b.Store = st

	case StoreBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(s.DatabaseURL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		b.closers = append(b.closers, db.Close)
		b.Store = bunstore.New(db, bunstore.WithLogger(logger))

	case StoreSQLite:
		st, err := sqlite.Open(ctx, s.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return err
		}
		b.Store = st

	case StoreRedis:
		client, err := redisClient()
		if err != nil {
			return err
		}
		st := redisstore.New(client, redisstore.WithLogger(logger))
		b.Store = st
		b.Locker = st

	case StoreMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(s.MongoURI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		b.closers = append(b.closers, func() error {
			return client.Disconnect(context.Background())
		})
		st := mongostore.New(client.Database(s.MongoDatabase), mongostore.WithLogger(logger))
		b.Store = st
		b.Locker = st

	default:
		return fmt.Errorf("unknown store %q", s.Store)
	}

	// A shared Redis also serves as the maintenance lock for SQL stores.
	if b.Locker == nil && s.RedisURL != "" && s.Store != StoreMemory && s.Store != StoreSQLite {
		client, err := redisClient()
		if err != nil {
			return err
		}
		b.Locker = redisstore.New(client, redisstore.WithLogger(logger))
	}
	return nil
}

// EngineOptions returns the engine options that plug this backend in.
func (b *Backend) EngineOptions() []engine.Option {
	var opts []engine.Option
	if b.Notifier != nil {
		opts = append(opts, engine.WithNotifier(b.Notifier))
	}
	if b.Locker != nil {
		opts = append(opts, engine.WithLocker(b.Locker))
	}
	return opts
}

// Close releases the store and every connection Open made, in reverse
// order.
func (b *Backend) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}
