// Package job defines the job entity, its forward-only state machine, and
// the store contract every backend implements.
//
// # Job Entity
//
// A [Job] is one unit of asynchronous video-processing work. It embeds
// [clipqueue.Entity] for timestamps, carries an opaque JSON payload stamped
// with a schema version, and progresses through:
//
//	pending → running → completed
//	pending → running → failed
//	pending → failed            (cancellation)
//
// No other transition is accepted. A retry never revives a job; it creates
// a new one whose RetryOf points at the failed source.
//
// # Handlers
//
// [Registry] maps job types to handlers for the optional in-process
// worker. Typed handlers are registered with [Register]:
//
//	job.Register(registry, job.TypeVideoDownload,
//	    func(ctx context.Context, in DownloadInput) error {
//	        return downloader.Fetch(ctx, in.URL)
//	    },
//	)
package job
