// Package config reads clipqueue settings from the environment and an
// optional .env file, and opens the configured storage backend.
//
// Every variable is prefixed CLIPQUEUE_. Unset variables keep the values
// of clipqueue.DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/getshortzy/clipqueue"
)

// Backend names accepted by CLIPQUEUE_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBun      = "bun"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
)

// Notifier names accepted by CLIPQUEUE_NOTIFIER.
const (
	NotifierChannel = "channel"
	NotifierRedis   = "redis"
)

// Settings is the full process configuration.
type Settings struct {
	clipqueue.Config

	// Store selects the storage backend.
	Store string
	// DatabaseURL is the Postgres connection string for the postgres and
	// bun backends.
	DatabaseURL string
	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string
	// RedisURL is used by the redis backend, the redis notifier, and the
	// maintenance lock.
	RedisURL string
	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string
	MongoDatabase string

	// Notifier selects the execution channel.
	Notifier string
	// RedisStream is the stream the redis notifier appends to.
	RedisStream string

	LogLevel  string
	LogFormat string
	// AuditLog writes a structured audit line for every lifecycle event.
	AuditLog bool
}

// Default returns Settings for a single in-memory process.
func Default() Settings {
	return Settings{
		Config:        clipqueue.DefaultConfig(),
		Store:         StoreMemory,
		SQLitePath:    "data/clipqueue.db",
		MongoDatabase: "clipqueue",
		Notifier:      NotifierChannel,
		RedisStream:   "clipqueue:notifications",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Lookup returns the value of an environment variable and whether it is
// set. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads files (".env" when none is given) into the process
// environment and parses the result. Missing files are ignored and
// variables already set are not overridden.
func Load(files ...string) (Settings, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse(os.LookupEnv)
}

// LoadFile parses path without touching the process environment. Process
// variables take precedence over the file.
func LoadFile(path string) (Settings, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	})
}

// Parse builds Settings from lookup on top of Default.
func Parse(lookup Lookup) (Settings, error) {
	s := Default()
	p := parser{lookup: lookup}

	p.str("STORE", &s.Store)
	p.str("DATABASE_URL", &s.DatabaseURL)
	p.str("SQLITE_PATH", &s.SQLitePath)
	p.str("REDIS_URL", &s.RedisURL)
	p.str("MONGO_URI", &s.MongoURI)
	p.str("MONGO_DATABASE", &s.MongoDatabase)
	p.str("NOTIFIER", &s.Notifier)
	p.str("REDIS_STREAM", &s.RedisStream)
	p.str("LOG_LEVEL", &s.LogLevel)
	p.str("LOG_FORMAT", &s.LogFormat)
	p.bool("AUDIT_LOG", &s.AuditLog)

	p.str("LISTEN_ADDR", &s.ListenAddr)
	p.str("CLEANUP_SCHEDULE", &s.CleanupSchedule)
	p.str("RECONCILE_SCHEDULE", &s.ReconcileSchedule)
	p.int("BATCH_CONCURRENCY", &s.BatchConcurrency)
	p.int("NOTIFY_BUFFER", &s.NotifyBuffer)
	p.int("CLEANUP_RETENTION_DAYS", &s.CleanupRetentionDays)
	p.int("WORKER_CONCURRENCY", &s.WorkerConcurrency)
	p.duration("NOTIFY_TIMEOUT", &s.NotifyTimeout)
	p.duration("RECONCILE_AFTER", &s.ReconcileAfter)
	p.duration("SHUTDOWN_TIMEOUT", &s.ShutdownTimeout)

	if err := errors.Join(p.errs...); err != nil {
		return Settings{}, err
	}
	if s.ReconcileSchedule == "off" {
		s.ReconcileSchedule = ""
	}
	return s, s.Validate()
}

// Validate checks that the selected backends have what they need.
func (s Settings) Validate() error {
	var errs []error
	switch s.Store {
	case StoreMemory:
	case StorePostgres, StoreBun:
		if s.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("CLIPQUEUE_DATABASE_URL is required for the %s store", s.Store))
		}
	case StoreSQLite:
		if s.SQLitePath == "" {
			errs = append(errs, errors.New("CLIPQUEUE_SQLITE_PATH is required for the sqlite store"))
		}
	case StoreRedis:
		if s.RedisURL == "" {
			errs = append(errs, errors.New("CLIPQUEUE_REDIS_URL is required for the redis store"))
		}
	case StoreMongo:
		if s.MongoURI == "" {
			errs = append(errs, errors.New("CLIPQUEUE_MONGO_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CLIPQUEUE_STORE %q", s.Store))
	}

	switch s.Notifier {
	case NotifierChannel:
	case NotifierRedis:
		if s.RedisURL == "" {
			errs = append(errs, errors.New("CLIPQUEUE_REDIS_URL is required for the redis notifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CLIPQUEUE_NOTIFIER %q", s.Notifier))
	}

	if s.CleanupRetentionDays < 0 {
		errs = append(errs, errors.New("CLIPQUEUE_CLEANUP_RETENTION_DAYS must not be negative"))
	}
	if s.WorkerConcurrency < 0 {
		errs = append(errs, errors.New("CLIPQUEUE_WORKER_CONCURRENCY must not be negative"))
	}
	return errors.Join(errs...)
}

// prefix is prepended to every variable name.
const prefix = "CLIPQUEUE_"

type parser struct {
	lookup Lookup
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(prefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return
	}
	*dst = n
}

func (p *parser) bool(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return
	}
	*dst = b
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return
	}
	*dst = d
}
