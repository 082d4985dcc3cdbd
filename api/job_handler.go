package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/policy"
	"github.com/getshortzy/clipqueue/queue"
)

// enqueueRequest is the body of POST /v1/jobs.
type enqueueRequest struct {
	Type            job.Type        `json:"type"`
	OwnerID         string          `json:"owner_id"`
	RelatedEntityID string          `json:"related_entity_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Tier            string          `json:"tier,omitempty"`
	Urgent          bool            `json:"urgent,omitempty"`
	Priority        *int            `json:"priority,omitempty"`
}

type jobIDResponse struct {
	JobID id.JobID `json:"job_id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type retryResponse struct {
	OK       bool     `json:"ok"`
	NewJobID id.JobID `json:"new_job_id,omitzero"`
}

func (a *API) enqueueJob(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body", "invalid JSON body")
	}

	opts := []queue.EnqueueOption{queue.WithTier(req.Tier)}
	if req.Urgent {
		opts = append(opts, queue.Urgent())
	}
	if req.Priority != nil {
		opts = append(opts, queue.WithPriority(*req.Priority))
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	jobID, err := a.eng.Queue().Enqueue(c.Request().Context(), queue.Request{
		Type:            req.Type,
		OwnerID:         req.OwnerID,
		RelatedEntityID: req.RelatedEntityID,
		Payload:         payload,
	}, opts...)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusCreated, jobIDResponse{JobID: jobID})
}

func (a *API) getJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		return badRequest(c, "jobId", err.Error())
	}
	st, ok, err := a.eng.Queue().GetStatus(c.Request().Context(), jobID)
	if err != nil {
		return a.fail(c, err)
	}
	if !ok {
		return notFound(c, "job")
	}
	return c.JSON(http.StatusOK, st)
}

func (a *API) cancelJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		return badRequest(c, "jobId", err.Error())
	}
	ok, err := a.eng.Queue().CancelJob(c.Request().Context(), jobID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, okResponse{OK: ok})
}

func (a *API) retryJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		return badRequest(c, "jobId", err.Error())
	}
	newID, ok, err := a.eng.Queue().RetryJob(c.Request().Context(), jobID)
	if err != nil {
		return a.fail(c, err)
	}
	if ok {
		return c.JSON(http.StatusCreated, retryResponse{OK: true, NewJobID: newID})
	}
	return c.JSON(http.StatusOK, retryResponse{})
}

// statusCallback receives executor reports. A duplicate or superseded
// report answers 200 with applied=false so executors do not retry it.
func (a *API) statusCallback(c echo.Context) error {
	var cb queue.Callback
	if err := c.Bind(&cb); err != nil {
		return badRequest(c, "body", "invalid JSON body")
	}
	if cb.JobID.IsNil() {
		return badRequest(c, "job_id", "job_id is required")
	}
	applied, err := a.eng.Queue().RecordStatus(c.Request().Context(), cb)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"applied": applied})
}

func (a *API) queueStats(c echo.Context) error {
	stats, err := a.eng.Queue().GetQueueStats(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *API) rateLimit(c echo.Context) error {
	period := policy.Period(c.QueryParam("period"))
	switch period {
	case "":
		period = policy.PeriodDay
	case policy.PeriodHour, policy.PeriodDay:
	default:
		return badRequest(c, "period", "period must be hour or day")
	}
	st, err := a.eng.Queue().CheckRateLimit(c.Request().Context(), c.Param("ownerId"), c.QueryParam("tier"), period)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
