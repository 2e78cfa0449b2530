package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

func newJob(typ job.Type, status job.Status, triggeredBy id.PrincipalID) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Type:        typ,
		Status:      status,
		Payload:     map[string]any{"documentId": "doc_01h2xcejqtf2nbrexx3vqjhp41"},
		MaxRetries:  3,
		TriggeredBy: triggeredBy,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// CRUD tests
// ──────────────────────────────────────────────────

func TestCreateGetJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeDocument, job.StatusPending, id.NewPrincipalID())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Fatal("CreateJob did not stamp timestamps")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Fatalf("GetJob returned wrong job: got %s want %s", got.ID, j.ID)
	}
	if got.Status != job.StatusPending {
		t.Fatalf("unexpected status %s", got.Status)
	}

	if err := s.CreateJob(ctx, j); !errors.Is(err, ingest.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob: got %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	s := New()

	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
}

func TestGetJobByExternalID(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeDocument, job.StatusPending, id.NewPrincipalID())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ext := "w-42"
	processing := job.StatusProcessing
	if _, err := s.UpdateJobFields(ctx, j.ID, job.Fields{Status: &processing, ExternalJobID: &ext}); err != nil {
		t.Fatalf("UpdateJobFields: %v", err)
	}

	got, err := s.GetJobByExternalID(ctx, "w-42")
	if err != nil {
		t.Fatalf("GetJobByExternalID: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Fatalf("resolved wrong job: got %s want %s", got.ID, j.ID)
	}

	if _, err := s.GetJobByExternalID(ctx, "w-missing"); !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("unknown external id: got %v, want ErrJobNotFound", err)
	}
	if _, err := s.GetJobByExternalID(ctx, ""); !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("empty external id: got %v, want ErrJobNotFound", err)
	}
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeBatch, job.StatusPending, id.NewPrincipalID())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("deleted job still readable: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("second delete: got %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Partial update tests
// ──────────────────────────────────────────────────

func TestUpdateJobFields(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeDocument, job.StatusPending, id.NewPrincipalID())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	processing := job.StatusProcessing
	ext := "w-1"
	started := time.Now().UTC()
	updated, err := s.UpdateJobFields(ctx, j.ID, job.Fields{
		Status:        &processing,
		ExternalJobID: &ext,
		StartedAt:     &started,
	})
	if err != nil {
		t.Fatalf("UpdateJobFields: %v", err)
	}
	if updated.Status != job.StatusProcessing || updated.ExternalJobID != "w-1" || updated.StartedAt == nil {
		t.Fatalf("partial update not applied: %+v", updated)
	}
	// Untouched fields survive.
	if updated.Payload["documentId"] != "doc_01h2xcejqtf2nbrexx3vqjhp41" {
		t.Fatal("payload clobbered by partial update")
	}
	if updated.MaxRetries != 3 {
		t.Fatal("max retries clobbered by partial update")
	}

	// Clear flags null the timestamps back out.
	cleared, err := s.UpdateJobFields(ctx, j.ID, job.Fields{ClearStartedAt: true})
	if err != nil {
		t.Fatalf("UpdateJobFields clear: %v", err)
	}
	if cleared.StartedAt != nil {
		t.Fatal("ClearStartedAt did not null started_at")
	}
}

func TestUpdateJobFieldsExpectStatus(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeDocument, job.StatusCancelled, id.NewPrincipalID())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	completed := job.StatusCompleted
	_, err := s.UpdateJobFields(ctx, j.ID, job.Fields{
		Status:       &completed,
		ExpectStatus: []job.Status{job.StatusPending, job.StatusProcessing},
	})
	if !errors.Is(err, ingest.ErrInvalidTransition) {
		t.Fatalf("guarded update against cancelled row: got %v, want ErrInvalidTransition", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Fatalf("guarded update mutated the row: %s", got.Status)
	}
}

func TestUpdateJobFieldsNotFound(t *testing.T) {
	t.Parallel()
	s := New()

	failed := job.StatusFailed
	_, err := s.UpdateJobFields(context.Background(), id.NewJobID(), job.Fields{Status: &failed})
	if !errors.Is(err, ingest.ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// List tests
// ──────────────────────────────────────────────────

func seedJobs(t *testing.T, s *Store) (id.PrincipalID, id.PrincipalID) {
	t.Helper()
	ctx := context.Background()
	alice := id.NewPrincipalID()
	bob := id.NewPrincipalID()

	seeds := []*job.Job{
		newJob(job.TypeDocument, job.StatusPending, alice),
		newJob(job.TypeDocument, job.StatusProcessing, alice),
		newJob(job.TypeBatch, job.StatusCompleted, alice),
		newJob(job.TypeBatch, job.StatusFailed, bob),
		newJob(job.TypeScheduled, job.StatusProcessing, bob),
	}
	for _, j := range seeds {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("seed CreateJob: %v", err)
		}
	}
	return alice, bob
}

func TestListJobsFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	alice, bob := seedJobs(t, s)

	tests := []struct {
		name      string
		opts      job.ListOpts
		wantTotal int64
	}{
		{"all", job.ListOpts{}, 5},
		{"by type", job.ListOpts{Type: job.TypeBatch}, 2},
		{"by status", job.ListOpts{Status: job.StatusProcessing}, 2},
		{"by principal", job.ListOpts{TriggeredBy: alice}, 3},
		{"type and principal", job.ListOpts{Type: job.TypeBatch, TriggeredBy: bob}, 1},
		{"no match", job.ListOpts{Type: job.TypeScheduled, Status: job.StatusFailed}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, total, err := s.ListJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if total != tt.wantTotal {
				t.Fatalf("total = %d, want %d", total, tt.wantTotal)
			}
			if int64(len(jobs)) != tt.wantTotal {
				t.Fatalf("len(jobs) = %d, want %d", len(jobs), tt.wantTotal)
			}
		})
	}
}

func TestListJobsPagination(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	seedJobs(t, s)

	jobs, total, err := s.ListJobs(ctx, job.ListOpts{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 5 || len(jobs) != 2 {
		t.Fatalf("page 1: total=%d len=%d", total, len(jobs))
	}

	jobs, _, err = s.ListJobs(ctx, job.ListOpts{Page: 3, PerPage: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("page 3: len=%d, want 1", len(jobs))
	}

	jobs, total, err = s.ListJobs(ctx, job.ListOpts{Page: 9, PerPage: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 || total != 5 {
		t.Fatalf("out-of-range page: len=%d total=%d", len(jobs), total)
	}
}

func TestListJobsSorting(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	// Distinct retry counts make the order observable.
	for i, count := range []int{2, 0, 1} {
		j := newJob(job.TypeDocument, job.StatusFailed, id.NewPrincipalID())
		j.RetryCount = count
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	jobs, _, err := s.ListJobs(ctx, job.ListOpts{SortBy: "retry_count", SortOrder: job.SortAsc})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	for i, want := range []int{0, 1, 2} {
		if jobs[i].RetryCount != want {
			t.Fatalf("asc order: jobs[%d].RetryCount = %d, want %d", i, jobs[i].RetryCount, want)
		}
	}

	jobs, _, err = s.ListJobs(ctx, job.ListOpts{SortBy: "retry_count", SortOrder: job.SortDesc})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if jobs[0].RetryCount != 2 {
		t.Fatalf("desc order: jobs[0].RetryCount = %d, want 2", jobs[0].RetryCount)
	}

	// Unknown sort keys fall back to created_at rather than erroring.
	if _, _, err := s.ListJobs(ctx, job.ListOpts{SortBy: "payload"}); err != nil {
		t.Fatalf("unknown sort key: %v", err)
	}
}

func TestListJobsSortingNullsLast(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	early := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	unfinished := newJob(job.TypeDocument, job.StatusProcessing, id.NewPrincipalID())
	first := newJob(job.TypeDocument, job.StatusCompleted, id.NewPrincipalID())
	first.CompletedAt = &early
	second := newJob(job.TypeDocument, job.StatusCompleted, id.NewPrincipalID())
	second.CompletedAt = &late

	for _, j := range []*job.Job{unfinished, first, second} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	// Rows without the timestamp land last in both directions, like the
	// SQL store's NULLS LAST.
	jobs, _, err := s.ListJobs(ctx, job.ListOpts{SortBy: "completed_at", SortOrder: job.SortAsc})
	if err != nil {
		t.Fatalf("ListJobs asc: %v", err)
	}
	if jobs[0].ID.String() != first.ID.String() || jobs[2].CompletedAt != nil {
		t.Fatalf("asc order wrong: got %v, %v, %v", jobs[0].CompletedAt, jobs[1].CompletedAt, jobs[2].CompletedAt)
	}

	jobs, _, err = s.ListJobs(ctx, job.ListOpts{SortBy: "completed_at", SortOrder: job.SortDesc})
	if err != nil {
		t.Fatalf("ListJobs desc: %v", err)
	}
	if jobs[0].ID.String() != second.ID.String() || jobs[2].CompletedAt != nil {
		t.Fatalf("desc order wrong: got %v, %v, %v", jobs[0].CompletedAt, jobs[1].CompletedAt, jobs[2].CompletedAt)
	}
}
