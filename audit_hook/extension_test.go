package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/ingest/audit_hook"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Type:        job.TypeDocument,
		Status:      job.StatusProcessing,
		MaxRetries:  3,
		RetryCount:  1,
		TriggeredBy: id.NewPrincipalID(),
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_JobCreated(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobCreated {
		t.Errorf("action = %q, want %q", evt.Action, ah.ActionJobCreated)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("resource id = %q, want %q", evt.ResourceID, j.ID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["type"] != "document" {
		t.Errorf("metadata type = %v", evt.Metadata["type"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobFailed(context.Background(), j, errors.New("worker crashed")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "worker crashed" {
		t.Errorf("reason = %q", evt.Reason)
	}
	if evt.Metadata["retry_count"] != 1 {
		t.Errorf("metadata retry_count = %v", evt.Metadata["retry_count"])
	}
}

func TestExtension_JobRetried(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	next := time.Now().UTC().Add(time.Minute)
	if err := e.OnJobRetried(context.Background(), j, 2, next); err != nil {
		t.Fatalf("OnJobRetried: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobRetried {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("severity = %q", evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("metadata attempt = %v", evt.Metadata["attempt"])
	}
}

func TestExtension_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobCancelled(context.Background(), j, "superseded upload"); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCancelled {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.Metadata["reason"] != "superseded upload" {
		t.Errorf("metadata reason = %v", evt.Metadata["reason"])
	}
}

func TestExtension_WithActionsFilter(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))
	j := newTestJob()

	_ = e.OnJobCreated(context.Background(), j)
	_ = e.OnJobDispatched(context.Background(), j, "w-1")
	_ = e.OnJobCompleted(context.Background(), j, time.Second)
	if rec.count() != 0 {
		t.Fatalf("filtered actions recorded %d events", rec.count())
	}

	_ = e.OnJobFailed(context.Background(), j, errors.New("boom"))
	if rec.count() != 1 {
		t.Fatalf("enabled action recorded %d events, want 1", rec.count())
	}
}

func TestExtension_RecorderErrorSwallowed(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	e := ah.New(failing)

	if err := e.OnJobCreated(context.Background(), newTestJob()); err != nil {
		t.Fatalf("recorder failure must not propagate, got %v", err)
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 6 {
		t.Errorf("AllActions() returned %d actions, want 6", got)
	}
}
