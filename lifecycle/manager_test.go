package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/backoff"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/store/memory"
	"github.com/xraph/ingest/worker"
)

// fakeDispatcher records Start/Cancel calls and returns scripted outcomes.
type fakeDispatcher struct {
	mu        sync.Mutex
	startErr  error
	cancelErr error
	next      int
	started   []string
	cancelled []string
}

func (f *fakeDispatcher) Start(_ context.Context, j *job.Job) worker.StartResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, j.ID.String())
	if f.startErr != nil {
		return worker.StartResult{Err: f.startErr}
	}
	f.next++
	return worker.StartResult{ExternalJobID: fmt.Sprintf("w-%d", f.next)}
}

func (f *fakeDispatcher) Cancel(_ context.Context, externalJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, externalJobID)
	return f.cancelErr
}

func (f *fakeDispatcher) cancelCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func newTestManager(t *testing.T, d *fakeDispatcher, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(memory.New(), d, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// ──────────────────────────────────────────────────
// Create tests
// ──────────────────────────────────────────────────

func TestNewManagerRequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(nil, &fakeDispatcher{}); !errors.Is(err, ingest.ErrNoStore) {
		t.Fatalf("got %v, want ErrNoStore", err)
	}
}

func TestCreateDocumentDispatches(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{
		Type:        job.TypeDocument,
		Payload:     map[string]any{"documentId": "doc-1"},
		TriggeredBy: id.NewPrincipalID(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if j.Status != job.StatusProcessing {
		t.Fatalf("status = %s, want processing", j.Status)
	}
	if j.ExternalJobID != "w-1" {
		t.Fatalf("external id = %q, want w-1", j.ExternalJobID)
	}
	if j.StartedAt == nil {
		t.Fatal("started_at not stamped on dispatch")
	}
	if j.MaxRetries != DefaultMaxRetries {
		t.Fatalf("max retries = %d, want default %d", j.MaxRetries, DefaultMaxRetries)
	}
	if len(d.started) != 1 {
		t.Fatalf("dispatcher called %d times, want 1", len(d.started))
	}
}

func TestCreateBatchStaysPending(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeBatch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("status = %s, want pending", j.Status)
	}
	if len(d.started) != 0 {
		t.Fatal("batch job must not auto-dispatch")
	}
}

func TestCreateDispatchFailureAbsorbed(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{startErr: fmt.Errorf("%w: worker unreachable", ingest.ErrDispatchFailed)}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeDocument})
	if err != nil {
		t.Fatalf("Create must absorb dispatch failure, got %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if j.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if j.CompletedAt == nil {
		t.Fatal("completed_at not stamped on dispatch failure")
	}
	if j.ExternalJobID != "" {
		t.Fatal("external id must stay empty on failed dispatch")
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeDispatcher{})

	if _, err := m.Create(context.Background(), CreateRequest{Type: job.Type("video")}); err == nil {
		t.Fatal("unknown type accepted")
	}
}

// ──────────────────────────────────────────────────
// Retry tests
// ──────────────────────────────────────────────────

func failedJob(t *testing.T, m *Manager, d *fakeDispatcher) *job.Job {
	t.Helper()
	d.mu.Lock()
	d.startErr = errors.New("boom")
	d.mu.Unlock()

	j, err := m.Create(context.Background(), CreateRequest{
		Type:    job.TypeDocument,
		Payload: map[string]any{"documentId": "doc-1", "ocr": false},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Fatalf("fixture job in status %s, want failed", j.Status)
	}

	d.mu.Lock()
	d.startErr = nil
	d.mu.Unlock()
	return j
}

func TestRetryFailedJob(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d, WithBackoff(backoff.NewConstant(time.Minute)))
	j := failedJob(t, m, d)

	retried, err := m.Retry(context.Background(), j.ID, map[string]any{"ocr": true})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// The retried document job re-dispatched and is processing again.
	if retried.Status != job.StatusProcessing {
		t.Fatalf("status = %s, want processing", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", retried.RetryCount)
	}
	if retried.ErrorMessage != "" {
		t.Fatal("error message not cleared on retry")
	}
	if retried.CompletedAt != nil {
		t.Fatal("completed_at not cleared on retry")
	}
	if retried.NextRetryAt == nil {
		t.Fatal("next_retry_at not stamped")
	}

	// New keys merge over the old payload without dropping it.
	if retried.Payload["ocr"] != true {
		t.Fatalf("payload override lost: %v", retried.Payload)
	}
	if retried.Payload["documentId"] != "doc-1" {
		t.Fatalf("original payload key lost: %v", retried.Payload)
	}
}

func TestRetryNonFailedRejected(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeDocument})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = m.Retry(context.Background(), j.ID, nil)
	if !errors.Is(err, ingest.ErrInvalidTransition) {
		t.Fatalf("retry of processing job: got %v, want ErrInvalidTransition", err)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d, WithBackoff(backoff.NewConstant(time.Millisecond)))

	d.mu.Lock()
	d.startErr = errors.New("boom")
	d.mu.Unlock()

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeDocument, MaxRetries: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Each retry re-dispatches and fails again, burning the budget.
	for i := 0; i < 2; i++ {
		if j, err = m.Retry(context.Background(), j.ID, nil); err != nil {
			t.Fatalf("Retry %d: %v", i+1, err)
		}
		if j.Status != job.StatusFailed {
			t.Fatalf("Retry %d: status = %s, want failed", i+1, j.Status)
		}
	}

	_, err = m.Retry(context.Background(), j.ID, nil)
	if !errors.Is(err, ingest.ErrMaxRetriesExceeded) {
		t.Fatalf("got %v, want ErrMaxRetriesExceeded", err)
	}
	// The budget error is still a transition error for callers matching
	// coarsely.
	if !errors.Is(err, ingest.ErrInvalidTransition) {
		t.Fatal("ErrMaxRetriesExceeded must match ErrInvalidTransition")
	}
}

func TestRetryUnknownJob(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeDispatcher{})

	_, err := m.Retry(context.Background(), id.NewJobID(), nil)
	if !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Cancel tests
// ──────────────────────────────────────────────────

func TestCancelProcessingJob(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeDocument})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := m.Cancel(context.Background(), j.ID, "superseded upload")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.ErrorMessage != "superseded upload" {
		t.Fatalf("reason = %q", cancelled.ErrorMessage)
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("completed_at not stamped on cancel")
	}

	// The worker holds the job, so a worker-side cancel goes out too.
	if calls := d.cancelCalls(); len(calls) != 1 || calls[0] != "w-1" {
		t.Fatalf("worker cancel calls = %v, want [w-1]", calls)
	}
}

func TestCancelPendingJobSkipsWorker(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeBatch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := m.Cancel(context.Background(), j.ID, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.ErrorMessage != DefaultCancelReason {
		t.Fatalf("reason = %q, want default", cancelled.ErrorMessage)
	}
	if calls := d.cancelCalls(); len(calls) != 0 {
		t.Fatalf("pending job must not reach the worker, got %v", calls)
	}
}

// staleReadStore blanks the external id on reads, modeling a dispatch that
// lands its id on the row after the caller's read but before its update.
type staleReadStore struct {
	job.Store
}

func (s *staleReadStore) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j.ExternalJobID = ""
	return j, nil
}

func TestCancelUsesPostUpdateExternalID(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	backing := memory.New()
	m, err := NewManager(&staleReadStore{Store: backing}, d)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeBatch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The dispatch completes concurrently: the stored row now carries the
	// worker's id, but the cancel path's read predates it.
	processing := job.StatusProcessing
	externalID := "w-9"
	if _, err := backing.UpdateJobFields(context.Background(), j.ID, job.Fields{
		Status:        &processing,
		ExternalJobID: &externalID,
	}); err != nil {
		t.Fatalf("UpdateJobFields: %v", err)
	}

	cancelled, err := m.Cancel(context.Background(), j.ID, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if calls := d.cancelCalls(); len(calls) != 1 || calls[0] != externalID {
		t.Fatalf("worker cancel calls = %v, want [%s]", calls, externalID)
	}
}

func TestCancelWorkerFailureIsBestEffort(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{cancelErr: errors.New("worker gone")}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeDocument})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := m.Cancel(context.Background(), j.ID, "")
	if err != nil {
		t.Fatalf("Cancel must swallow worker-side failure, got %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
}

func TestCancelTerminalJobRejected(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)

	j, err := m.Create(context.Background(), CreateRequest{Type: job.TypeBatch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Cancel(context.Background(), j.ID, ""); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}

	_, err = m.Cancel(context.Background(), j.ID, "")
	if !errors.Is(err, ingest.ErrJobNotActive) {
		t.Fatalf("second Cancel: got %v, want ErrJobNotActive", err)
	}
}

// ──────────────────────────────────────────────────
// Query tests
// ──────────────────────────────────────────────────

func TestListDefaultsAndPagination(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := m.Create(ctx, CreateRequest{Type: job.TypeBatch}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	page, err := m.List(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 12 {
		t.Fatalf("total = %d, want 12", page.Total)
	}
	if len(page.Jobs) != job.DefaultPerPage {
		t.Fatalf("len = %d, want default page size %d", len(page.Jobs), job.DefaultPerPage)
	}
	if page.Page != 1 || page.PerPage != job.DefaultPerPage {
		t.Fatalf("page meta = %d/%d", page.Page, page.PerPage)
	}

	second, err := m.List(ctx, job.ListOpts{Page: 2})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(second.Jobs) != 2 {
		t.Fatalf("page 2 len = %d, want 2", len(second.Jobs))
	}
}

func TestListByPrincipal(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)
	ctx := context.Background()

	alice := id.NewPrincipalID()
	bob := id.NewPrincipalID()
	for _, p := range []id.PrincipalID{alice, alice, bob} {
		if _, err := m.Create(ctx, CreateRequest{Type: job.TypeBatch, TriggeredBy: p}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, err := m.ListByPrincipal(ctx, alice, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
}

func TestListByStatusValidates(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeDispatcher{})

	if _, err := m.ListByStatus(context.Background(), job.Status("sleeping"), job.ListOpts{}); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestListActiveOldestFirst(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	m := newTestManager(t, d)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		j, err := m.Create(ctx, CreateRequest{Type: job.TypeDocument})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, j.ID.String())
		time.Sleep(2 * time.Millisecond)
	}
	// A pending batch job must not show up as active.
	if _, err := m.Create(ctx, CreateRequest{Type: job.TypeBatch}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err := m.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("len = %d, want 3", len(active))
	}
	for i, j := range active {
		if j.ID.String() != ids[i] {
			t.Fatalf("active[%d] = %s, want %s (oldest first)", i, j.ID, ids[i])
		}
	}
}
