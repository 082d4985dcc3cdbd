package cron

import (
	"context"
	"time"

	"github.com/getshortzy/clipqueue/id"
)

// Task is the work an entry performs when it fires.
type Task func(ctx context.Context) error

// Entry is one scheduled task. Recurring entries carry a cron expression;
// one-shot entries fire once at NextRunAt and are then dropped.
type Entry struct {
	ID        id.ScheduleID `json:"id"`
	Name      string        `json:"name"`
	Schedule  string        `json:"schedule,omitempty"`
	Once      bool          `json:"once"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt time.Time     `json:"next_run_at"`
	LastError string        `json:"last_error,omitempty"`
	Runs      int           `json:"runs"`
}

// Locker serializes entry execution across processes so that a task fires
// on one instance per tick. Redis implements it.
type Locker interface {
	// AcquireLock returns true when the lock for name was taken. The lock
	// expires after ttl.
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// ReleaseLock releases a lock taken by AcquireLock.
	ReleaseLock(ctx context.Context, name string) error
}
