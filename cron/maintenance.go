package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/queue"
)

// Entry names of the built-in maintenance tasks.
const (
	CleanupEntry   = "cleanup"
	ReconcileEntry = "reconcile"
)

// Maintainer is the queue surface the maintenance tasks drive.
// queue.Manager implements it.
type Maintainer interface {
	Cleanup(ctx context.Context, days int) (int64, error)
	Renotify(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

var (
	_ Maintainer     = (*queue.Manager)(nil)
	_ batch.Deferrer = (*Scheduler)(nil)
)

// reconcileBatch bounds how many stale jobs one reconcile run resends.
const reconcileBatch = 500

// RegisterMaintenance registers the retention cleanup and the pending-job
// reconciliation on s using the schedules in cfg. An empty schedule
// disables that task.
func RegisterMaintenance(s *Scheduler, m Maintainer, cfg clipqueue.Config) error {
	if cfg.CleanupSchedule != "" {
		days := cfg.CleanupRetentionDays
		_, err := s.Register(CleanupEntry, cfg.CleanupSchedule, func(ctx context.Context) error {
			n, err := m.Cleanup(ctx, days)
			if err != nil {
				return err
			}
			s.logger.Info("retention cleanup finished",
				slog.Int("retention_days", days),
				slog.Int64("deleted", n),
			)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if cfg.ReconcileSchedule != "" {
		after := cfg.ReconcileAfter
		_, err := s.Register(ReconcileEntry, cfg.ReconcileSchedule, func(ctx context.Context) error {
			_, err := m.Renotify(ctx, after, reconcileBatch)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
