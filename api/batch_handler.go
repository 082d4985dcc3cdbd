package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/id"
)

// batchRequest is the body of POST /v1/batches. A ScheduledFor in the
// future defers submission instead of enqueueing now.
type batchRequest struct {
	OwnerID      string            `json:"owner_id"`
	Videos       []batch.VideoSpec `json:"videos"`
	Tier         string            `json:"tier,omitempty"`
	Priority     *int              `json:"priority,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
}

type batchResponse struct {
	BatchID      id.BatchID `json:"batch_id"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

type retryBatchResponse struct {
	Retried int `json:"retried"`
}

func (a *API) submitBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body", "invalid JSON body")
	}
	ctx := c.Request().Context()
	o := batch.Options{Tier: req.Tier, Priority: req.Priority}

	if req.ScheduledFor != nil && req.ScheduledFor.After(time.Now()) {
		batchID, err := a.eng.Batches().Schedule(ctx, req.OwnerID, req.Videos, *req.ScheduledFor, o)
		if err != nil {
			return a.fail(c, err)
		}
		return c.JSON(http.StatusAccepted, batchResponse{BatchID: batchID, ScheduledFor: req.ScheduledFor})
	}

	batchID, err := a.eng.Batches().ProcessVideoBatch(ctx, req.OwnerID, req.Videos, o)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusCreated, batchResponse{BatchID: batchID})
}

func (a *API) getBatch(c echo.Context) error {
	batchID, err := id.ParseBatchID(c.Param("batchId"))
	if err != nil {
		return badRequest(c, "batchId", err.Error())
	}
	view, ok, err := a.eng.Batches().GetBatchStatus(c.Request().Context(), batchID)
	if err != nil {
		return a.fail(c, err)
	}
	if !ok {
		return notFound(c, "batch")
	}
	return c.JSON(http.StatusOK, view)
}

func (a *API) cancelBatch(c echo.Context) error {
	batchID, err := id.ParseBatchID(c.Param("batchId"))
	if err != nil {
		return badRequest(c, "batchId", err.Error())
	}
	ok, err := a.eng.Batches().CancelBatch(c.Request().Context(), batchID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, okResponse{OK: ok})
}

func (a *API) retryBatch(c echo.Context) error {
	batchID, err := id.ParseBatchID(c.Param("batchId"))
	if err != nil {
		return badRequest(c, "batchId", err.Error())
	}
	n, err := a.eng.Batches().RetryBatch(c.Request().Context(), batchID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, retryBatchResponse{Retried: n})
}

func (a *API) recommendations(c echo.Context) error {
	rec, err := a.eng.Batches().GetRecommendations(c.Request().Context(), c.Param("ownerId"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}
