// Package audithook is a clipqueue extension that turns job and batch
// lifecycle hooks into audit records.
//
// Records go to a [Recorder]. [LogRecorder] writes them to a slog logger,
// which is what the clipqueue command wires when CLIPQUEUE_AUDIT_LOG is
// set:
//
//	eng, err := engine.Build(store,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// Restrict the actions recorded with [WithActions]:
//
//	audithook.New(rec, audithook.WithActions(audithook.ActionJobFailed, audithook.ActionJobCancelled))
package audithook
