package batch

import (
	"fmt"
	"math"
	"time"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// Status is the derived state of a batch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// View is the aggregate state of one batch.
type View struct {
	ID            id.BatchID `json:"id"`
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	TotalJobs     int        `json:"total_jobs"`
	PendingJobs   int        `json:"pending_jobs"`
	RunningJobs   int        `json:"running_jobs"`
	CompletedJobs int        `json:"completed_jobs"`
	FailedJobs    int        `json:"failed_jobs"`
	// Progress is round(100 * completed / total).
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is the latest completion time once every job is terminal.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Current drops jobs that were superseded by a retry, so that each unit of
// work is represented by its latest attempt only.
func Current(jobs []*job.Job) []*job.Job {
	superseded := make(map[id.JobID]struct{})
	for _, j := range jobs {
		if !j.RetryOf.IsNil() {
			superseded[j.RetryOf] = struct{}{}
		}
	}
	out := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if _, ok := superseded[j.ID]; !ok {
			out = append(out, j)
		}
	}
	return out
}

// Summarize derives the view of batchID from its jobs. It returns false
// when jobs is empty.
func Summarize(batchID id.BatchID, jobs []*job.Job) (View, bool) {
	jobs = Current(jobs)
	if len(jobs) == 0 {
		return View{}, false
	}

	v := View{
		ID:        batchID,
		Name:      fmt.Sprintf("Batch %s", batchID),
		TotalJobs: len(jobs),
		CreatedAt: jobs[0].CreatedAt,
	}
	var last time.Time
	for _, j := range jobs {
		switch j.State {
		case job.StatePending:
			v.PendingJobs++
		case job.StateRunning:
			v.RunningJobs++
		case job.StateCompleted:
			v.CompletedJobs++
		case job.StateFailed:
			v.FailedJobs++
		}
		if j.CreatedAt.Before(v.CreatedAt) {
			v.CreatedAt = j.CreatedAt
		}
		if j.CompletedAt != nil && j.CompletedAt.After(last) {
			last = *j.CompletedAt
		}
	}

	terminal := v.CompletedJobs + v.FailedJobs
	switch {
	case terminal == v.TotalJobs && v.FailedJobs > 0:
		v.Status = StatusFailed
	case terminal == v.TotalJobs:
		v.Status = StatusCompleted
	case v.CompletedJobs > 0 || v.RunningJobs > 0:
		v.Status = StatusProcessing
	default:
		v.Status = StatusPending
	}

	if terminal == v.TotalJobs {
		// A fully terminal batch reports 100 even when jobs failed.
		v.Progress = 100
		v.CompletedAt = &last
	} else {
		v.Progress = int(math.Round(100 * float64(v.CompletedJobs) / float64(v.TotalJobs)))
	}
	return v, true
}
