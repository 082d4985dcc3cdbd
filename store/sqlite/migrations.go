package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the clipqueue sqlite store.
// Timestamps are stored as UTC unix nanoseconds.
var Migrations = migrate.NewGroup("clipqueue")

func init() {
	Migrations.MustRegister(
		// 001: Create jobs table and indexes.
		&migrate.Migration{
			Name:    "create_jobs_table",
			Version: "20240101120000",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS clipqueue_jobs (
						id                TEXT PRIMARY KEY,
						type              TEXT NOT NULL,
						status            TEXT NOT NULL DEFAULT 'pending',
						priority          INTEGER NOT NULL DEFAULT 0,
						tier              TEXT NOT NULL DEFAULT '',
						owner_id          TEXT NOT NULL,
						related_entity_id TEXT NOT NULL,
						payload           BLOB NOT NULL,
						payload_version   INTEGER NOT NULL DEFAULT 1,
						batch_id          TEXT,
						attempt           INTEGER NOT NULL DEFAULT 1,
						retry_of          TEXT,
						error             TEXT NOT NULL DEFAULT '',
						started_at        INTEGER,
						completed_at      INTEGER,
						created_at        INTEGER NOT NULL,
						updated_at        INTEGER NOT NULL
					)`)
				if err != nil {
					return err
				}

				for _, ddl := range []string{
					`CREATE INDEX IF NOT EXISTS idx_clipqueue_jobs_owner
						ON clipqueue_jobs (owner_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_clipqueue_jobs_batch
						ON clipqueue_jobs (batch_id)
						WHERE batch_id IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_clipqueue_jobs_status
						ON clipqueue_jobs (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_clipqueue_jobs_type
						ON clipqueue_jobs (type, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_clipqueue_jobs_completed
						ON clipqueue_jobs (completed_at)
						WHERE status = 'completed'`,
				} {
					if _, err := exec.Exec(ctx, ddl); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS clipqueue_jobs`)
				return err
			},
		},

		// 002: A failed job has at most one retry.
		&migrate.Migration{
			Name:    "unique_retry_of",
			Version: "20240101120001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE UNIQUE INDEX IF NOT EXISTS idx_clipqueue_jobs_retry_of
						ON clipqueue_jobs (retry_of)
						WHERE retry_of IS NOT NULL`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP INDEX IF EXISTS idx_clipqueue_jobs_retry_of`)
				return err
			},
		},
	)
}
