// Package audithook is an ingest extension that bridges job lifecycle
// events to an immutable audit trail backend.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns appropriate severity levels
// (info for normal operations, warning for retries and cancellations,
// critical for failures) and rich metadata (job type, retry counts,
// elapsed time, errors).
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
