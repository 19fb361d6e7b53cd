// Package audithook is a storemesh extension that bridges record and task
// lifecycle events to an audit trail backend.
//
// Every hook emits a structured audit event through the [Recorder]
// interface. The extension assigns severity levels (info for normal
// operations, warning for retries and reconciliation gaps, critical for
// dead letters) and metadata such as item, shop, task type and attempt.
//
// # Logging recorder
//
//	eng, err := engine.New(
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	    ...
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionTaskDeadLettered,
//	        audithook.ActionRecordReconciliationRequired,
//	    ),
//	)
package audithook
