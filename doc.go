// Package clipqueue is the job queue and batch orchestration core behind the
// video clipping pipeline. It accepts video-processing jobs (download, audio
// extraction, transcription, viral-moment analysis, clip generation, batch
// processing), assigns each a priority from the caller's tier and urgency,
// persists it, and notifies an external executor that does the actual work.
//
// clipqueue is a library, not a service. Wire a job store and a notifier
// into a queue.Manager and call it from request handlers:
//
//	s := memory.New()
//	ch := notify.NewChannel(1024)
//	m, err := queue.NewManager(s, ch)
//	jobID, err := m.Enqueue(ctx, queue.Request{
//	    Type:            job.TypeClipGeneration,
//	    OwnerID:         userID,
//	    RelatedEntityID: projectID,
//	}, queue.WithTier("pro"))
//
// The engine package assembles the same pieces with the maintenance
// scheduler, the batch processor, the monitor, and an optional in-process
// worker pool. The api package serves them over HTTP and cmd/clipqueue
// runs it all as a process.
//
// # Architecture
//
// The policy package holds the static priority, limit, and retry tables.
// The queue package owns the job store and is the only writer of job rows.
// The batch package groups jobs under a batch id on top of the queue
// Manager, and the monitor package derives health and bottleneck views
// from the Manager's read operations.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package clipqueue
