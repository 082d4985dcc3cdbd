package store

import (
	"context"

	"github.com/getshortzy/clipqueue/job"
)

// Store is the aggregate persistence interface every backend implements.
type Store interface {
	job.Store

	// Migrate creates or updates the schema. Schemaless backends create
	// their indexes here.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources the store owns.
	Close() error
}
