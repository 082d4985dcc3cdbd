// Package queue implements the clipqueue Manager, the dispatcher at the
// centre of the system.
//
// A Manager persists jobs through a [job.Store] and hands each new job to a
// [notify.Notifier]. It never runs jobs itself. The external executor (or
// the optional in-process worker pool) reports progress back through
// [Manager.RecordStatus], which applies compare-and-set transitions so that
// a start racing with a cancellation has exactly one winner.
//
//	m, err := queue.NewManager(store, notifier,
//	    queue.WithLogger(logger),
//	    queue.WithBatchConcurrency(8),
//	)
//	jobID, err := m.Enqueue(ctx, queue.Request{
//	    Type:            job.TypeClipGeneration,
//	    OwnerID:         userID,
//	    RelatedEntityID: projectID,
//	    Payload:         map[string]any{"max_clips": 5},
//	}, queue.WithTier("pro"), queue.Urgent())
//
// Operations that touch storage return a [clipqueue.StorageError] on
// backend failure. The Manager never retries its own storage calls.
// References to unknown jobs are reported as a false or nil result rather
// than an error.
package queue
