package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/batch"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps a clipqueue error to an HTTP status code.
func statusFor(err error) int {
	var ve *clipqueue.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, clipqueue.ErrJobNotFound), errors.Is(err, clipqueue.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, clipqueue.ErrInvalidTransition), errors.Is(err, clipqueue.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, batch.ErrNoDeferrer):
		return http.StatusNotImplemented
	case clipqueue.IsStorageError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error response. Internal errors are logged and
// reported without detail.
func (a *API) fail(c echo.Context, err error) error {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}
	var ve *clipqueue.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if code == http.StatusInternalServerError {
		a.logger.ErrorContext(c.Request().Context(), "request failed",
			"path", c.Path(),
			"error", err.Error(),
		)
		body.Error = http.StatusText(code)
	}
	return c.JSON(code, body)
}

func badRequest(c echo.Context, field, reason string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: reason, Field: field})
}

func notFound(c echo.Context, what string) error {
	return c.JSON(http.StatusNotFound, errorBody{Error: what + " not found"})
}
