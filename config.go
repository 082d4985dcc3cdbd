package clipqueue

import "time"

// Config holds the tunables shared by the queue, the optional worker pool,
// and the maintenance scheduler.
type Config struct {
	// BatchConcurrency bounds how many enqueue operations a single batch
	// submission runs in parallel.
	BatchConcurrency int

	// NotifyBuffer is the buffer size of the in-process notification channel.
	NotifyBuffer int

	// NotifyTimeout bounds one delivery attempt to a remote notifier.
	NotifyTimeout time.Duration

	// CleanupRetentionDays is how long completed jobs are kept.
	CleanupRetentionDays int

	// CleanupSchedule is the cron expression for the cleanup run.
	CleanupSchedule string

	// ReconcileSchedule is the cron expression for re-notifying stale
	// pending jobs.
	ReconcileSchedule string

	// ReconcileAfter is how long a job may sit pending before it is
	// re-notified.
	ReconcileAfter time.Duration

	// WorkerConcurrency is the number of in-process worker goroutines.
	// Zero disables the in-process worker pool.
	WorkerConcurrency int

	// ListenAddr is the address the HTTP adapter binds to.
	ListenAddr string

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchConcurrency:     8,
		NotifyBuffer:         1024,
		NotifyTimeout:        5 * time.Second,
		CleanupRetentionDays: 7,
		CleanupSchedule:      "0 3 * * *",
		ReconcileSchedule:    "@every 1m",
		ReconcileAfter:       5 * time.Minute,
		WorkerConcurrency:    0,
		ListenAddr:           ":8080",
		ShutdownTimeout:      30 * time.Second,
	}
}
