// Package observability provides an extension that records job lifecycle
// metrics through the OpenTelemetry metric API. Register it with the
// lifecycle manager to track creation rates, dispatch acceptance, terminal
// outcomes, retries, cancellations, and end-to-end job duration.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ingest/ext"
	"github.com/xraph/ingest/job"
)

// meterName is the instrumentation scope name for ingest metrics.
const meterName = "github.com/xraph/ingest"

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobCreated    = (*MetricsExtension)(nil)
	_ ext.JobDispatched = (*MetricsExtension)(nil)
	_ ext.JobCompleted  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobRetried    = (*MetricsExtension)(nil)
	_ ext.JobCancelled  = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics.
//
// Instruments:
//   - ingest.job.created (Int64Counter), attribute: type
//   - ingest.job.dispatched (Int64Counter), attribute: type
//   - ingest.job.outcomes (Int64Counter), attributes: type, outcome
//     ("completed", "failed", "cancelled")
//   - ingest.job.retried (Int64Counter), attribute: type
//   - ingest.job.duration (Float64Histogram, seconds), attributes: type,
//     outcome — recorded on completion only, where a start time exists
type MetricsExtension struct {
	created    metric.Int64Counter
	dispatched metric.Int64Counter
	outcomes   metric.Int64Counter
	retried    metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, noop instruments are used and the
// extension becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// Create instruments once at construction time. OTel instruments are
	// safe for concurrent use. On error, the API returns noop instruments
	// so the extension degrades gracefully.
	created, cErr := meter.Int64Counter(
		"ingest.job.created",
		metric.WithDescription("Total number of ingestion jobs created"),
		metric.WithUnit("{job}"),
	)
	_ = cErr // noop fallback guaranteed by OTel API contract

	dispatched, dErr := meter.Int64Counter(
		"ingest.job.dispatched",
		metric.WithDescription("Total number of jobs accepted by the external worker"),
		metric.WithUnit("{job}"),
	)
	_ = dErr

	outcomes, oErr := meter.Int64Counter(
		"ingest.job.outcomes",
		metric.WithDescription("Terminal job outcomes by kind"),
		metric.WithUnit("{job}"),
	)
	_ = oErr

	retried, rErr := meter.Int64Counter(
		"ingest.job.retried",
		metric.WithDescription("Total number of retry requests accepted"),
		metric.WithUnit("{retry}"),
	)
	_ = rErr

	duration, hErr := meter.Float64Histogram(
		"ingest.job.duration",
		metric.WithDescription("End-to-end job duration in seconds"),
		metric.WithUnit("s"),
	)
	_ = hErr

	return &MetricsExtension{
		created:    created,
		dispatched: dispatched,
		outcomes:   outcomes,
		retried:    retried,
		duration:   duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.created.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobDispatched implements ext.JobDispatched.
func (m *MetricsExtension) OnJobDispatched(ctx context.Context, j *job.Job, _ string) error {
	m.dispatched.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.outcomes.Add(ctx, 1, outcomeAttr(j, "completed"))
	m.duration.Record(ctx, elapsed.Seconds(), outcomeAttr(j, "completed"))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.outcomes.Add(ctx, 1, outcomeAttr(j, "failed"))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job, _ string) error {
	m.outcomes.Add(ctx, 1, outcomeAttr(j, "cancelled"))
	return nil
}

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", string(j.Type)))
}

func outcomeAttr(j *job.Job, outcome string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("type", string(j.Type)),
		attribute.String("outcome", outcome),
	)
}
