package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
	"github.com/getshortzy/clipqueue/queue"
)

// EnqueueRequest submits one job.
type EnqueueRequest struct {
	Type            job.Type        `json:"type"`
	OwnerID         string          `json:"owner_id"`
	RelatedEntityID string          `json:"related_entity_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Tier            string          `json:"tier,omitempty"`
	Urgent          bool            `json:"urgent,omitempty"`
	Priority        *int            `json:"priority,omitempty"`
}

// Enqueue submits a job and returns its id.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (id.JobID, error) {
	var resp struct {
		JobID id.JobID `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return id.Nil, err
	}
	return resp.JobID, nil
}

// GetJob returns the status view of jobID. An unknown job yields an error
// matching clipqueue.ErrJobNotFound.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (queue.JobStatus, error) {
	var st queue.JobStatus
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID.String()), nil, &st)
	return st, err
}

// CancelJob cancels a pending or running job. It reports false when the
// job was already terminal or unknown.
func (c *Client) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID.String())+"/cancel", nil, &resp)
	return resp.OK, err
}

// RetryJob re-enqueues a failed job and returns the new job's id. The
// boolean is false when the job was not failed.
func (c *Client) RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, bool, error) {
	var resp struct {
		OK       bool     `json:"ok"`
		NewJobID id.JobID `json:"new_job_id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID.String())+"/retry", nil, &resp)
	return resp.NewJobID, resp.OK, err
}

// ReportStatus sends an executor status callback. It reports whether the
// server applied the transition; duplicates and reports for cancelled
// jobs return false without error.
func (c *Client) ReportStatus(ctx context.Context, jobID id.JobID, status job.State, reason string) (bool, error) {
	var resp struct {
		Applied bool `json:"applied"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/callbacks/status", queue.Callback{
		JobID:  jobID,
		Status: status,
		Error:  reason,
	}, &resp)
	return resp.Applied, err
}

// QueueStats returns counts by status and by type.
func (c *Client) QueueStats(ctx context.Context) (queue.Stats, error) {
	var s queue.Stats
	err := c.do(ctx, http.MethodGet, "/v1/queue/stats", nil, &s)
	return s, err
}

// RateLimit returns ownerID's video budget in period.
func (c *Client) RateLimit(ctx context.Context, ownerID, tier string, period policy.Period) (queue.RateLimitStatus, error) {
	q := url.Values{}
	q.Set("tier", tier)
	q.Set("period", string(period))
	var st queue.RateLimitStatus
	err := c.do(ctx, http.MethodGet, "/v1/owners/"+url.PathEscape(ownerID)+"/rate-limit?"+q.Encode(), nil, &st)
	return st, err
}
