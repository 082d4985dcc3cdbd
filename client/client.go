// Package client is a Go client for the clipqueue HTTP API. Executors use
// it to report job status; services use it to submit and inspect work.
//
//	c := client.New("http://clipqueue:8080", client.WithRetry(3, 200*time.Millisecond))
//
//	jobID, err := c.Enqueue(ctx, client.EnqueueRequest{
//	    Type:            job.TypeTranscription,
//	    OwnerID:         "user-1",
//	    RelatedEntityID: "project-9",
//	})
//
//	// From the executor, once the work is done:
//	applied, err := c.ReportStatus(ctx, jobID, job.StateCompleted, "")
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/backoff"
)

// Client talks to a clipqueue server over HTTP. It is safe for concurrent
// use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger

	maxRetries int
	backoff    backoff.Strategy
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
		backoff: backoff.None{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("clipqueue/client: %d: %s (%s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("clipqueue/client: %d: %s", e.StatusCode, e.Message)
}

// Is maps response codes onto the clipqueue sentinel errors, so callers
// can use errors.Is(err, clipqueue.ErrValidation) as they would in
// process.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == clipqueue.ErrValidation
	case http.StatusNotFound:
		return target == clipqueue.ErrJobNotFound || target == clipqueue.ErrBatchNotFound
	case http.StatusConflict:
		return target == clipqueue.ErrInvalidTransition
	}
	return false
}

// retryable reports whether a request that failed with err may be sent
// again.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// do sends a JSON request and decodes a JSON response into out. A nil out
// discards the body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("clipqueue/client: marshal request: %w", err)
		}
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = c.send(ctx, method, path, body, out)
		if err == nil || attempt >= c.maxRetries || !retryable(err) {
			return err
		}
		delay := c.backoff.Delay(attempt + 1)
		c.logger.Warn("clipqueue request failed, retrying",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("clipqueue/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clipqueue/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Field: e.Field}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clipqueue/client: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health returns nil when the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
