// Package ext lets extensions observe the job lifecycle.
//
// Each hook is its own interface, so an extension implements only the
// events it cares about:
//
//	type slackAlerts struct{ client *slack.Client }
//
//	func (s *slackAlerts) Name() string { return "slack-alerts" }
//
//	func (s *slackAlerts) OnJobFailed(ctx context.Context, j *job.Job, reason string) error {
//	    return s.client.Post(ctx, fmt.Sprintf("%s %s failed: %s", j.Type, j.ID, reason))
//	}
//
// Hooks:
//
//   - [JobEnqueued], [JobStarted], [JobCompleted], [JobFailed]
//   - [JobCancelled] for user cancellation of a pending job
//   - [JobRetried] when a failed job is re-enqueued
//   - [BatchEnqueued] after a batch submission
//   - [Shutdown] on graceful shutdown
//
// Hooks run synchronously on the caller's goroutine and their errors are
// logged, never returned.
package ext
