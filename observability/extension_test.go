package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/observability"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", m.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func newTestJob() *job.Job {
	return &job.Job{
		Entity: ingest.NewEntity(),
		ID:     id.NewJobID(),
		Type:   job.TypeDocument,
		Status: job.StatusPending,
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := observability.NewMetricsExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_CountsCreated(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	if err := e.OnJobCreated(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := findMetric(collectMetrics(t, reader), "ingest.job.created")
	if m == nil {
		t.Fatal("ingest.job.created not recorded")
	}
	if got := counterValue(t, m); got != 1 {
		t.Errorf("created: want 1, got %d", got)
	}
}

func TestMetricsExtension_CountsDispatched(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	if err := e.OnJobDispatched(context.Background(), newTestJob(), "w-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := findMetric(collectMetrics(t, reader), "ingest.job.dispatched")
	if m == nil {
		t.Fatal("ingest.job.dispatched not recorded")
	}
	if got := counterValue(t, m); got != 1 {
		t.Errorf("dispatched: want 1, got %d", got)
	}
}

func TestMetricsExtension_RecordsOutcomesAndDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()

	if err := e.OnJobCompleted(ctx, newTestJob(), 2*time.Second); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := e.OnJobFailed(ctx, newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if err := e.OnJobCancelled(ctx, newTestJob(), "no longer needed"); err != nil {
		t.Fatalf("cancelled: %v", err)
	}

	rm := collectMetrics(t, reader)

	outcomes := findMetric(rm, "ingest.job.outcomes")
	if outcomes == nil {
		t.Fatal("ingest.job.outcomes not recorded")
	}
	if got := counterValue(t, outcomes); got != 3 {
		t.Errorf("outcomes: want 3, got %d", got)
	}

	duration := findMetric(rm, "ingest.job.duration")
	if duration == nil {
		t.Fatal("ingest.job.duration not recorded")
	}
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("ingest.job.duration is not a float64 histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 1 {
		t.Errorf("duration samples: want 1 (completion only), got %d", count)
	}
}

func TestMetricsExtension_CountsRetried(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	if err := e.OnJobRetried(context.Background(), newTestJob(), 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := findMetric(collectMetrics(t, reader), "ingest.job.retried")
	if m == nil {
		t.Fatal("ingest.job.retried not recorded")
	}
	if got := counterValue(t, m); got != 1 {
		t.Errorf("retried: want 1, got %d", got)
	}
}
