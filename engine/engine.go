package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/batch"
	"github.com/getshortzy/clipqueue/cron"
	"github.com/getshortzy/clipqueue/ext"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/limiter"
	mw "github.com/getshortzy/clipqueue/middleware"
	"github.com/getshortzy/clipqueue/monitor"
	"github.com/getshortzy/clipqueue/notify"
	"github.com/getshortzy/clipqueue/observability"
	"github.com/getshortzy/clipqueue/queue"
	"github.com/getshortzy/clipqueue/store"
	"github.com/getshortzy/clipqueue/worker"
)

const instrumentationName = "github.com/getshortzy/clipqueue"

// Engine owns the wired subsystems. Build one with Build.
type Engine struct {
	config clipqueue.Config
	logger *slog.Logger
	store  store.Store

	extensions *ext.Registry
	exts       []ext.Extension
	registry   *job.Registry
	mws        []mw.Middleware

	notifier notify.Notifier
	source   notify.Source
	// async wraps a remote notifier so Enqueue never waits on it.
	async *notify.Async

	manager   *queue.Manager
	batches   *batch.Processor
	monitor   *monitor.Monitor
	scheduler *cron.Scheduler
	locker    cron.Locker
	projects  batch.ProjectCreator

	limiter  *limiter.Limiter
	executor *worker.Executor
	pool     *worker.Pool

	metrics *observability.MetricsExtension
	gauges  metric.Registration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the shared tunables. Defaults to clipqueue.DefaultConfig.
func WithConfig(cfg clipqueue.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger handed to every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		if l != nil {
			eng.logger = l
		}
	}
}

// WithNotifier sets the execution channel. A notifier that is not an
// in-process notify.Channel is wrapped in notify.Async so enqueues never
// block on it. When the notifier is also a notify.Source the worker pool
// consumes from it.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithSource sets the source the in-process worker pool consumes.
func WithSource(src notify.Source) Option {
	return func(eng *Engine) { eng.source = src }
}

// WithExtension registers a lifecycle hook.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends execution middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithLocker guards maintenance runs with a distributed lock.
func WithLocker(l cron.Locker) Option {
	return func(eng *Engine) { eng.locker = l }
}

// WithProjectCreator sets the collaborator that creates one project per
// batch video. The default mints a project id without persisting anything.
func WithProjectCreator(p batch.ProjectCreator) Option {
	return func(eng *Engine) { eng.projects = p }
}

// WithLimiter replaces the worker pool's default limiter.
func WithLimiter(l *limiter.Limiter) Option {
	return func(eng *Engine) { eng.limiter = l }
}

// WithTracerProvider sets the TracerProvider used by the tracing
// middleware.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the MeterProvider used by the metrics middleware,
// the observability hooks, and the queue size gauge.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// mintProject is the default ProjectCreator.
var mintProject = batch.ProjectCreatorFunc(func(context.Context, string, batch.VideoSpec) (string, error) {
	return id.NewProjectID().String(), nil
})

// Build wires an Engine on top of s. The caller keeps ownership of s.
func Build(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, clipqueue.ErrNoStore
	}

	eng := &Engine{
		config:   clipqueue.DefaultConfig(),
		logger:   slog.Default(),
		store:    s,
		registry: job.NewRegistry(),
		projects: mintProject,
	}
	for _, opt := range opts {
		opt(eng)
	}
	cfg := eng.config

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Execution channel.
	switch n := eng.notifier.(type) {
	case nil:
		if cfg.WorkerConcurrency <= 0 {
			// Nothing in process would drain a channel; executors poll
			// the store through the status API instead.
			eng.notifier = notify.Discard
			cfg.ReconcileSchedule = ""
			eng.logger.Info("no worker pool and no notifier, notifications discarded")
			break
		}
		ch := notify.NewChannel(cfg.NotifyBuffer)
		eng.notifier = ch
		if eng.source == nil {
			eng.source = ch
		}
	case *notify.Channel:
		if eng.source == nil {
			eng.source = n
		}
	default:
		if src, ok := n.(notify.Source); ok && eng.source == nil {
			eng.source = src
		}
		eng.async = notify.NewAsync(n,
			notify.WithAsyncLogger(eng.logger),
			notify.WithAsyncTimeout(cfg.NotifyTimeout),
			notify.WithAsyncBuffer(cfg.NotifyBuffer),
		)
		eng.notifier = eng.async
	}

	// Observability hooks.
	meter := eng.meter()
	eng.metrics = observability.NewMetricsExtensionWithMeter(meter)
	eng.extensions.Register(eng.metrics)

	manager, err := queue.NewManager(s, eng.notifier,
		queue.WithLogger(eng.logger),
		queue.WithConfig(cfg),
		queue.WithExtensions(eng.extensions),
	)
	if err != nil {
		return nil, err
	}
	eng.manager = manager

	gauges, err := observability.RegisterQueueGauges(meter, manager)
	if err != nil {
		return nil, fmt.Errorf("register queue gauges: %w", err)
	}
	eng.gauges = gauges

	schedOpts := []cron.SchedulerOption{
		cron.WithLogger(eng.logger),
		cron.WithEmitter(eng.extensions),
	}
	if eng.locker != nil {
		schedOpts = append(schedOpts, cron.WithLocker(eng.locker, 0))
	}
	eng.scheduler = cron.NewScheduler(schedOpts...)
	if err := cron.RegisterMaintenance(eng.scheduler, manager, cfg); err != nil {
		return nil, fmt.Errorf("register maintenance: %w", err)
	}

	eng.batches = batch.NewProcessor(manager, eng.projects,
		batch.WithLogger(eng.logger),
		batch.WithDeferrer(eng.scheduler),
	)
	eng.monitor = monitor.New(manager, monitor.WithLogger(eng.logger))

	if cfg.WorkerConcurrency > 0 {
		if eng.source == nil {
			return nil, errors.New("clipqueue: worker pool enabled but the notifier cannot be consumed")
		}
		eng.buildPool()
	}
	return eng, nil
}

// buildPool creates the in-process executor with the default middleware
// stack: recover, tracing, metrics, logging, inject, timeout.
func (eng *Engine) buildPool() {
	tracer := otel.Tracer(instrumentationName)
	if eng.tracerProvider != nil {
		tracer = eng.tracerProvider.Tracer(instrumentationName)
	}
	defaults := []mw.Middleware{
		mw.Recover(eng.logger),
		mw.TracingWithTracer(tracer),
		mw.MetricsWithMeter(eng.meter()),
		mw.Logging(eng.logger),
		mw.Inject(),
		mw.Timeout(eng.logger),
	}
	all := make([]mw.Middleware, 0, len(defaults)+len(eng.mws))
	all = append(all, defaults...)
	all = append(all, eng.mws...)

	if eng.limiter == nil {
		eng.limiter = limiter.New()
	}
	eng.executor = worker.NewExecutor(eng.registry, eng.manager, eng.logger, all...)
	eng.pool = worker.NewPool(eng.source, eng.executor, eng.logger,
		worker.WithPoolConcurrency(eng.config.WorkerConcurrency),
		worker.WithLimiter(eng.limiter),
	)
}

func (eng *Engine) meter() metric.Meter {
	if eng.meterProvider != nil {
		return eng.meterProvider.Meter(instrumentationName)
	}
	return otel.Meter(instrumentationName)
}

// Start launches the maintenance scheduler and, when enabled, the worker
// pool. Notifications stay pending until Start is called.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.started {
		return nil
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if eng.pool != nil {
		if err := eng.pool.Start(ctx); err != nil {
			return fmt.Errorf("start worker pool: %w", err)
		}
	}
	eng.started = true
	eng.logger.Info("clipqueue engine started",
		slog.Bool("worker_pool", eng.pool != nil),
		slog.Int("worker_concurrency", eng.config.WorkerConcurrency),
	)
	return nil
}

// Stop shuts the engine down in dependency order: worker pool, scheduler,
// pending notifications, hooks. The store is left open for its owner.
func (eng *Engine) Stop(ctx context.Context) error {
	var errs []error
	if eng.pool != nil {
		if err := eng.pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
		}
	}
	if err := eng.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if eng.async != nil {
		if err := eng.async.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifier: %w", err))
		}
	}
	if eng.gauges != nil {
		if err := eng.gauges.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregister gauges: %w", err))
		}
		eng.gauges = nil
	}
	eng.extensions.EmitShutdown(ctx)
	eng.started = false
	return errors.Join(errs...)
}

// Health pings the store.
func (eng *Engine) Health(ctx context.Context) error {
	return eng.store.Ping(ctx)
}

// Config returns the engine configuration.
func (eng *Engine) Config() clipqueue.Config { return eng.config }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Metrics returns the lifecycle metrics hook.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// Extensions returns the hook registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry used by the in-process pool.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Queue returns the queue manager.
func (eng *Engine) Queue() *queue.Manager { return eng.manager }

// Batches returns the batch processor.
func (eng *Engine) Batches() *batch.Processor { return eng.batches }

// Monitor returns the performance monitor.
func (eng *Engine) Monitor() *monitor.Monitor { return eng.monitor }

// Scheduler returns the maintenance scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool, or nil when WorkerConcurrency is zero.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Limiter returns the worker pool limiter, or nil without a pool.
func (eng *Engine) Limiter() *limiter.Limiter { return eng.limiter }
