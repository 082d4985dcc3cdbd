package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/id"
)

// BatchRequest submits a batch of videos. A future ScheduledFor defers
// the submission on the server.
type BatchRequest struct {
	OwnerID      string            `json:"owner_id"`
	Videos       []batch.VideoSpec `json:"videos"`
	Tier         string            `json:"tier,omitempty"`
	Priority     *int              `json:"priority,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
}

// SubmitBatch submits a batch and returns its id.
func (c *Client) SubmitBatch(ctx context.Context, req BatchRequest) (id.BatchID, error) {
	var resp struct {
		BatchID id.BatchID `json:"batch_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/batches", req, &resp); err != nil {
		return id.Nil, err
	}
	return resp.BatchID, nil
}

// GetBatch returns the aggregate view of batchID.
func (c *Client) GetBatch(ctx context.Context, batchID id.BatchID) (batch.View, error) {
	var v batch.View
	err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID.String()), nil, &v)
	return v, err
}

// CancelBatch cancels every live job of batchID.
func (c *Client) CancelBatch(ctx context.Context, batchID id.BatchID) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID.String())+"/cancel", nil, &resp)
	return resp.OK, err
}

// RetryBatch retries the failed jobs of batchID and returns how many were
// re-enqueued.
func (c *Client) RetryBatch(ctx context.Context, batchID id.BatchID) (int, error) {
	var resp struct {
		Retried int `json:"retried"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID.String())+"/retry", nil, &resp)
	return resp.Retried, err
}
