// Package ext defines the extension system for Ingest. Extensions are
// notified of job lifecycle events (created, dispatched, completed, failed,
// retried, cancelled) and can react to them, for example by recording
// metrics or audit events.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/ingest/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a job row is persisted, before any dispatch.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobDispatched is called when the external worker accepts a job.
type JobDispatched interface {
	OnJobDispatched(ctx context.Context, j *job.Job, externalJobID string) error
}

// JobCompleted is called when the worker reports successful completion.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when dispatch fails or the worker reports failure.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetried is called after a retry request is accepted and the job is
// back in pending.
type JobRetried interface {
	OnJobRetried(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) error
}

// JobCancelled is called after a job is cancelled locally.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job, reason string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
