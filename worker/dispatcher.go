// Package worker integrates with the external ingestion worker over HTTP.
// The worker is opaque beyond its two endpoints: a trigger endpoint that
// accepts work and returns its own job identifier, and a best-effort cancel
// endpoint.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/job"
)

// StartResult is the outcome of a trigger call. Failures travel in Err as a
// value rather than an error return so the caller is forced to translate
// them into a job-state transition; the dispatcher itself never decides
// what a failure means for the job.
type StartResult struct {
	// ExternalJobID is the worker-assigned identifier. Set iff Err is nil.
	ExternalJobID string
	// Err is the transport failure, timeout, or malformed response that
	// prevented the worker from accepting the job.
	Err error
}

// OK reports whether the worker accepted the job.
func (r StartResult) OK() bool { return r.Err == nil }

// Dispatcher issues the start-work and cancel-work calls to the external
// worker. Endpoint and timeout come from an injected WorkerConfig so tests
// can point it at a fake server.
type Dispatcher struct {
	cfg     ingest.WorkerConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client. The per-call timeout
// still comes from the WorkerConfig via context deadlines.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRateLimit caps outbound trigger calls at r per second with the given
// burst, protecting the worker from dispatch storms (mass retries).
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(d *Dispatcher) { d.limiter = rate.NewLimiter(r, burst) }
}

// NewDispatcher creates a Dispatcher talking to the worker described by cfg.
func NewDispatcher(cfg ingest.WorkerConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		client: &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// triggerRequest is the wire shape of the trigger call.
type triggerRequest struct {
	JobID   string         `json:"jobId"`
	Type    job.Type       `json:"type"`
	Payload map[string]any `json:"payload"`
}

// triggerResponse is the wire shape of the worker's acceptance.
type triggerResponse struct {
	JobID string `json:"jobId"`
}

// cancelRequest is the wire shape of the cancel call.
type cancelRequest struct {
	JobID string `json:"jobId"`
}

// Start POSTs the job to the worker's trigger endpoint under the configured
// timeout. Every outcome comes back in the StartResult; Start never panics
// and never returns a Go error, so the caller always applies exactly one of
// the two transitions (accepted or failed).
func (d *Dispatcher) Start(ctx context.Context, j *job.Job) StartResult {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return StartResult{Err: fmt.Errorf("ingest/worker: rate limit wait: %w", err)}
		}
	}

	body, err := json.Marshal(triggerRequest{
		JobID:   j.ID.String(),
		Type:    j.Type,
		Payload: j.Payload,
	})
	if err != nil {
		return StartResult{Err: fmt.Errorf("ingest/worker: marshal trigger request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	url := d.cfg.BaseURL + d.cfg.TriggerPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return StartResult{Err: fmt.Errorf("ingest/worker: build trigger request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return StartResult{Err: fmt.Errorf("ingest/worker: trigger %s: %w", j.ID, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return StartResult{Err: fmt.Errorf("ingest/worker: trigger %s: worker returned %d: %s: %w",
			j.ID, resp.StatusCode, bytes.TrimSpace(snippet), ingest.ErrDispatchFailed)}
	}

	var accepted triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return StartResult{Err: fmt.Errorf("ingest/worker: decode trigger response: %w", err)}
	}
	if accepted.JobID == "" {
		return StartResult{Err: fmt.Errorf("ingest/worker: trigger %s: response carries no job id: %w",
			j.ID, ingest.ErrDispatchFailed)}
	}

	d.logger.Info("job dispatched to worker",
		slog.String("job_id", j.ID.String()),
		slog.String("external_job_id", accepted.JobID),
	)
	return StartResult{ExternalJobID: accepted.JobID}
}

// Cancel POSTs to the worker's cancel endpoint. Best-effort: the returned
// error is informational and must never block the local CANCELLED
// transition, since the local record is authoritative for callers.
func (d *Dispatcher) Cancel(ctx context.Context, externalJobID string) error {
	body, err := json.Marshal(cancelRequest{JobID: externalJobID})
	if err != nil {
		return fmt.Errorf("ingest/worker: marshal cancel request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	url := d.cfg.BaseURL + d.cfg.CancelPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ingest/worker: build cancel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("ingest/worker: cancel %s: %w", externalJobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest/worker: cancel %s: worker returned %d", externalJobID, resp.StatusCode)
	}

	d.logger.Info("worker-side cancel requested", slog.String("external_job_id", externalJobID))
	return nil
}
