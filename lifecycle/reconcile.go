package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/job"
)

// Worker-reported statuses accepted on the webhook path. These are the
// worker's vocabulary, not job.Status: the worker never reports pending or
// cancelled.
const (
	WorkerStatusProcessing = "processing"
	WorkerStatusCompleted  = "completed"
	WorkerStatusFailed     = "failed"
)

// fallbackFailureMessage is recorded when a failure report carries no
// error detail in its result.
const fallbackFailureMessage = "Processing failed"

// Reconcile folds a worker status report into job state. The job is
// located by the worker's own identifier; an unknown identifier yields a
// not-found error and an unrecognized status yields ErrUnknownStatus, in
// both cases without touching any row.
//
// Reports against a job that was cancelled in the meantime are rejected:
// the observed cancellation is final, and the late report loses the race.
func (m *Manager) Reconcile(ctx context.Context, externalJobID, status string, result map[string]any) (*job.Job, error) {
	ctx, span := m.startSpan(ctx, "ingest.job.reconcile",
		attribute.String("ingest.job.external_id", externalJobID),
		attribute.String("ingest.worker.status", status))
	defer span.End()

	j, err := m.store.GetJobByExternalID(ctx, externalJobID)
	if err != nil {
		return nil, m.spanErr(span, err)
	}
	span.SetAttributes(attribute.String("ingest.job.id", j.ID.String()))

	now := time.Now().UTC()
	active := []job.Status{job.StatusPending, job.StatusProcessing}

	var f job.Fields
	switch status {
	case WorkerStatusProcessing:
		processing := job.StatusProcessing
		f = job.Fields{Status: &processing, ExpectStatus: active}
		// Idempotent: a repeated processing report must not move the
		// started-at timestamp.
		if j.StartedAt == nil {
			f.StartedAt = &now
		}

	case WorkerStatusCompleted:
		completed := job.StatusCompleted
		f = job.Fields{
			Status:       &completed,
			Result:       result,
			CompletedAt:  &now,
			ExpectStatus: active,
		}

	case WorkerStatusFailed:
		failed := job.StatusFailed
		msg := failureMessage(result)
		// Result is only stored on completion; a failure report contributes
		// its error detail and nothing else.
		f = job.Fields{
			Status:       &failed,
			ErrorMessage: &msg,
			CompletedAt:  &now,
			ExpectStatus: active,
		}

	default:
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: reconcile %q: %w",
			status, ingest.ErrUnknownStatus))
	}

	updated, err := m.store.UpdateJobFields(ctx, j.ID, f)
	if err != nil {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: reconcile job: %w", err))
	}

	switch status {
	case WorkerStatusCompleted:
		m.extensions.EmitJobCompleted(ctx, updated, job.Duration(updated))
	case WorkerStatusFailed:
		m.extensions.EmitJobFailed(ctx, updated, fmt.Errorf("%s", *f.ErrorMessage))
	}

	m.logger.Info("worker status applied",
		slog.String("job_id", updated.ID.String()),
		slog.String("worker_status", status),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// failureMessage extracts the worker's error detail from a failure result.
func failureMessage(result map[string]any) string {
	if msg, ok := result["error"].(string); ok && msg != "" {
		return msg
	}
	return fallbackFailureMessage
}
