// Package api is the HTTP adapter of clipqueue. It serves the executor
// status callback and the queue, batch, and monitor read endpoints on an
// echo router.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/getshortzy/clipqueue/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an API from a clipqueue Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns an echo instance with every route and the default
// middleware (panic recovery and request logging).
func (a *API) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelDebug
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			a.logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))
	a.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers all clipqueue routes on e.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", a.healthz)

	v1 := e.Group("/v1")
	a.registerJobRoutes(v1)
	a.registerBatchRoutes(v1)
	a.registerStatsRoutes(v1)
}

// registerJobRoutes registers job submission, lookup, and the executor
// callback.
func (a *API) registerJobRoutes(g *echo.Group) {
	g.POST("/jobs", a.enqueueJob)
	g.GET("/jobs/:jobId", a.getJob)
	g.POST("/jobs/:jobId/cancel", a.cancelJob)
	g.POST("/jobs/:jobId/retry", a.retryJob)
	g.POST("/callbacks/status", a.statusCallback)
}

// registerBatchRoutes registers batch submission and management.
func (a *API) registerBatchRoutes(g *echo.Group) {
	g.POST("/batches", a.submitBatch)
	g.GET("/batches/:batchId", a.getBatch)
	g.POST("/batches/:batchId/cancel", a.cancelBatch)
	g.POST("/batches/:batchId/retry", a.retryBatch)
	g.GET("/owners/:ownerId/recommendations", a.recommendations)
}

// registerStatsRoutes registers queue statistics and monitoring.
func (a *API) registerStatsRoutes(g *echo.Group) {
	g.GET("/queue/stats", a.queueStats)
	g.GET("/owners/:ownerId/rate-limit", a.rateLimit)
	g.GET("/monitor/summary", a.performanceSummary)
	g.GET("/monitor/health", a.systemHealth)
	g.GET("/monitor/bottlenecks", a.bottlenecks)
	g.GET("/monitor/counters", a.counters)
}

func (a *API) healthz(c echo.Context) error {
	if err := a.eng.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown gracefully stops a server returned by Handler.
func Shutdown(ctx context.Context, e *echo.Echo) error {
	return e.Shutdown(ctx)
}
