package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/getshortzy/clipqueue/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry retries requests that fail with a transport error or a 5xx
// response up to maxRetries times, waiting with jittered exponential
// backoff starting at baseDelay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff.NewExponentialWithJitter(baseDelay, 30*time.Second)
	}
}
