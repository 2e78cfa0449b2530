// Package lifecycle owns every state transition of an ingestion job:
// creation, dispatch outcomes, worker-reported reconciliation, retry, and
// cancellation. Transition legality is enforced here; the stores only
// guard against write races.
//
// This package exists to keep the transition table in one place: the API
// layer, the webhook reconciler, and the schedule package all funnel
// through a Manager rather than writing job rows themselves.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/backoff"
	"github.com/xraph/ingest/ext"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/worker"
)

// tracerName is the instrumentation scope name for lifecycle tracing.
const tracerName = "github.com/xraph/ingest"

// DefaultMaxRetries is the retry budget assigned when a create request
// does not specify one.
const DefaultMaxRetries = 3

// DefaultCancelReason is recorded when a cancel request carries no reason.
const DefaultCancelReason = "Cancelled by user"

// Dispatcher is the outbound contract to the external worker. Satisfied by
// worker.Dispatcher; tests substitute fakes.
type Dispatcher interface {
	// Start asks the worker to begin processing the job. The outcome is
	// always a value; Start never panics past this boundary.
	Start(ctx context.Context, j *job.Job) worker.StartResult

	// Cancel asks the worker to stop the identified work, best-effort.
	Cancel(ctx context.Context, externalJobID string) error
}

// Manager coordinates the ingestion-job state machine over a Store and a
// Dispatcher.
type Manager struct {
	store      job.Store
	dispatcher Dispatcher
	extensions *ext.Registry
	bo         backoff.Strategy
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBackoff sets the strategy used to stamp next_retry_at on retried
// jobs. Defaults to backoff.DefaultStrategy() (exponential with jitter).
func WithBackoff(b backoff.Strategy) Option {
	return func(m *Manager) { m.bo = b }
}

// WithExtension registers a lifecycle extension with the manager.
func WithExtension(e ext.Extension) Option {
	return func(m *Manager) { m.extensions.Register(e) }
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(tracerName) }
}

// NewManager creates a Manager over the given store and dispatcher.
func NewManager(store job.Store, d Dispatcher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ingest.ErrNoStore
	}

	logger := slog.Default()
	m := &Manager{
		store:      store,
		dispatcher: d,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bo == nil {
		m.bo = backoff.DefaultStrategy()
	}
	return m, nil
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Extensions returns the manager's extension registry.
func (m *Manager) Extensions() *ext.Registry { return m.extensions }

// Close emits the shutdown event to all extensions. The store's lifecycle
// belongs to whoever constructed it.
func (m *Manager) Close(ctx context.Context) error {
	m.extensions.EmitShutdown(ctx)
	return nil
}

// CreateRequest describes a new ingestion job.
type CreateRequest struct {
	// Type classifies the work; fixed for the job's lifetime.
	Type job.Type

	// Payload is the opaque input handed to the external worker.
	Payload map[string]any

	// MaxRetries bounds the retry budget. Zero means DefaultMaxRetries.
	MaxRetries int

	// TriggeredBy is the acting principal. Nil is accepted for jobs
	// created by the schedule package.
	TriggeredBy id.PrincipalID
}

// Create persists a new PENDING job and, for document jobs, immediately
// runs the dispatch step. Dispatch failure is absorbed into the job state:
// Create still returns the job (already FAILED) with a nil error, so the
// failure is visible only in the job's own status.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*job.Job, error) {
	ctx, span := m.startSpan(ctx, "ingest.job.create",
		attribute.String("ingest.job.type", string(req.Type)))
	defer span.End()

	if _, err := job.ParseType(string(req.Type)); err != nil {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: create: %w", err))
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	j := &job.Job{
		ID:          id.NewJobID(),
		Type:        req.Type,
		Status:      job.StatusPending,
		Payload:     req.Payload,
		MaxRetries:  maxRetries,
		TriggeredBy: req.TriggeredBy,
	}

	if err := m.store.CreateJob(ctx, j); err != nil {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: create job: %w", err))
	}
	span.SetAttributes(attribute.String("ingest.job.id", j.ID.String()))
	m.extensions.EmitJobCreated(ctx, j)

	m.logger.Info("ingestion job created",
		slog.String("job_id", j.ID.String()),
		slog.String("type", string(j.Type)),
	)

	if j.Type == job.TypeDocument {
		return m.dispatch(ctx, j), nil
	}
	return j, nil
}

// Get retrieves a job by id.
func (m *Manager) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Delete removes a job record. Administrative cleanup only; the lifecycle
// itself never deletes, so no extension hook fires.
func (m *Manager) Delete(ctx context.Context, jobID id.JobID) error {
	return m.store.DeleteJob(ctx, jobID)
}

// Retry moves an eligible FAILED job back to PENDING, increments the retry
// counter, clears the failure fields, shallow-merges any new payload keys
// over the old payload, and re-runs the create-time dispatch step. An
// exhausted budget or a non-failed status is rejected without touching the
// row.
func (m *Manager) Retry(ctx context.Context, jobID id.JobID, payload map[string]any) (*job.Job, error) {
	ctx, span := m.startSpan(ctx, "ingest.job.retry",
		attribute.String("ingest.job.id", jobID.String()))
	defer span.End()

	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, m.spanErr(span, err)
	}

	if j.Status != job.StatusFailed {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: retry %s in status %s: %w",
			jobID, j.Status, ingest.ErrInvalidTransition))
	}
	if !job.CanRetry(j) {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: retry %s after %d of %d attempts: %w",
			jobID, j.RetryCount, j.MaxRetries, ingest.ErrMaxRetriesExceeded))
	}

	attempt := j.RetryCount + 1
	nextRetryAt := time.Now().UTC().Add(m.bo.Delay(attempt))
	clearText := ""
	clearExternal := ""
	pending := job.StatusPending

	f := job.Fields{
		Status:           &pending,
		RetryCount:       &attempt,
		ErrorMessage:     &clearText,
		ExternalJobID:    &clearExternal,
		NextRetryAt:      &nextRetryAt,
		ClearStartedAt:   true,
		ClearCompletedAt: true,
		ExpectStatus:     []job.Status{job.StatusFailed},
	}
	if len(payload) > 0 {
		f.Payload = job.MergePayload(j.Payload, payload)
	}

	updated, err := m.store.UpdateJobFields(ctx, jobID, f)
	if err != nil {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: retry job: %w", err))
	}
	m.extensions.EmitJobRetried(ctx, updated, attempt, nextRetryAt)

	m.logger.Info("ingestion job retrying",
		slog.String("job_id", jobID.String()),
		slog.Int("attempt", attempt),
	)

	if updated.Type == job.TypeDocument {
		return m.dispatch(ctx, updated), nil
	}
	return updated, nil
}

// Cancel moves an active (PENDING or PROCESSING) job to CANCELLED,
// recording the reason and the completion time. If the worker already
// holds the job, a best-effort worker-side cancel is issued; its failure
// never blocks the local transition. Cancelling a terminal job is rejected
// without touching the row.
func (m *Manager) Cancel(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	ctx, span := m.startSpan(ctx, "ingest.job.cancel",
		attribute.String("ingest.job.id", jobID.String()))
	defer span.End()

	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, m.spanErr(span, err)
	}
	if !job.IsActive(j) {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: cancel %s in status %s: %w",
			jobID, j.Status, ingest.ErrJobNotActive))
	}

	if reason == "" {
		reason = DefaultCancelReason
	}
	now := time.Now().UTC()
	cancelled := job.StatusCancelled

	updated, err := m.store.UpdateJobFields(ctx, jobID, job.Fields{
		Status:       &cancelled,
		ErrorMessage: &reason,
		CompletedAt:  &now,
		ExpectStatus: []job.Status{job.StatusPending, job.StatusProcessing},
	})
	if err != nil {
		return nil, m.spanErr(span, fmt.Errorf("lifecycle: cancel job: %w", err))
	}

	// The updated row, not the earlier read, decides whether the worker
	// holds the job: a dispatch finishing between the Get and the guarded
	// update lands its external id on the row we just cancelled.
	if updated.ExternalJobID != "" {
		if cancelErr := m.dispatcher.Cancel(ctx, updated.ExternalJobID); cancelErr != nil {
			m.logger.Warn("worker-side cancel failed",
				slog.String("job_id", jobID.String()),
				slog.String("external_job_id", updated.ExternalJobID),
				slog.String("error", cancelErr.Error()),
			)
		}
	}
	m.extensions.EmitJobCancelled(ctx, updated, reason)

	m.logger.Info("ingestion job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("reason", reason),
	)
	return updated, nil
}

// dispatch runs the create-time dispatch step and folds the outcome into
// job state. It never returns an error: acceptance moves the job to
// PROCESSING, any failure moves it to FAILED. If a concurrent cancel won
// the race while the worker call was in flight, the cancelled row is
// returned untouched.
func (m *Manager) dispatch(ctx context.Context, j *job.Job) *job.Job {
	res := m.dispatcher.Start(ctx, j)
	now := time.Now().UTC()

	var f job.Fields
	if res.OK() {
		processing := job.StatusProcessing
		f = job.Fields{
			Status:        &processing,
			ExternalJobID: &res.ExternalJobID,
			StartedAt:     &now,
			ExpectStatus:  []job.Status{job.StatusPending},
		}
	} else {
		failed := job.StatusFailed
		msg := res.Err.Error()
		f = job.Fields{
			Status:       &failed,
			ErrorMessage: &msg,
			CompletedAt:  &now,
			ExpectStatus: []job.Status{job.StatusPending},
		}
	}

	updated, err := m.store.UpdateJobFields(ctx, j.ID, f)
	if err != nil {
		// A cancel observed mid-dispatch wins; report the row as it is.
		m.logger.Warn("dispatch outcome not applied",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		current, getErr := m.store.GetJob(ctx, j.ID)
		if getErr != nil {
			return j
		}
		return current
	}

	if res.OK() {
		m.extensions.EmitJobDispatched(ctx, updated, res.ExternalJobID)
	} else {
		m.logger.Warn("dispatch failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", res.Err.Error()),
		)
		m.extensions.EmitJobFailed(ctx, updated, res.Err)
	}
	return updated
}

// startSpan opens an internal span for a lifecycle operation.
func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// spanErr records err on the span and passes it through.
func (m *Manager) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
