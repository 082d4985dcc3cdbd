// Package cron runs the queue's housekeeping on a tick loop.
//
// Two recurring tasks are built in and registered by [RegisterMaintenance]:
//
//   - cleanup deletes completed jobs older than the retention period
//     (Config.CleanupSchedule, daily at 03:00 by default)
//   - reconcile re-sends notifications for jobs that have sat pending longer
//     than Config.ReconcileAfter, covering deliveries lost to a notifier
//     outage
//
// Schedules use standard 5-field cron expressions or descriptors such as
// "@every 1m". When several processes share a store, pass a [Locker] with
// [WithLocker] so each firing runs on one instance only; the Redis store
// provides one.
//
// The [Scheduler] also implements batch.Deferrer through [Scheduler.At],
// which backs scheduled batch submissions. Deferred work is held in memory
// and does not survive a restart.
package cron
