// Package engine wires the clipqueue subsystems together: the queue
// manager, batch processor, performance monitor, hook registry, the
// maintenance scheduler and, when enabled, the in-process worker pool.
//
// The engine package exists to break an import cycle: the root clipqueue
// package defines errors and Config (imported by every subsystem) and so
// cannot import those subsystems back. Engine sits above all subsystem
// packages and below the application layer (api, cmd).
//
// # Building an Engine
//
//	s := postgres.New(ctx, dsn)
//	eng, err := engine.Build(s,
//	    engine.WithConfig(cfg),
//	    engine.WithNotifier(notify.NewRedis(rdb)),
//	    engine.WithLocker(redisStore),
//	)
//
// # Running jobs in process
//
// Set Config.WorkerConcurrency above zero and register handlers. Without
// a pool or an explicit notifier, notifications are discarded and the
// reconcile task is not registered; executors then poll the store.
//
//	job.Register(eng.Registry(), job.TypeTranscription, transcribe)
//	eng.Start(ctx)
//
// # Options
//
//   - [WithConfig] sets the shared tunables
//   - [WithNotifier] replaces the in-process notification channel
//   - [WithSource] sets the source the worker pool consumes
//   - [WithExtension] registers a lifecycle hook
//   - [WithMiddleware] adds execution middleware
//   - [WithLocker] shares the maintenance schedule across instances
//   - [WithProjectCreator] sets the batch project collaborator
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
