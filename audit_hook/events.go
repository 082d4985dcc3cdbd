package audithook

// Audit actions, one per lifecycle hook.
const (
	ActionJobEnqueued   = "job.enqueued"
	ActionJobStarted    = "job.started"
	ActionJobCompleted  = "job.completed"
	ActionJobFailed     = "job.failed"
	ActionJobCancelled  = "job.cancelled"
	ActionJobRetried    = "job.retried"
	ActionBatchEnqueued = "batch.enqueued"
	ActionCronFired     = "cron.fired"
)

// Resource types recorded as Record.Resource.
const (
	ResourceJob   = "job"
	ResourceBatch = "batch"
	ResourceCron  = "cron_entry"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action the extension can record.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobRetried,
		ActionBatchEnqueued,
		ActionCronFired,
	}
}
