package job

import (
	"context"
	"time"

	"github.com/xraph/ingest/id"
)

// DefaultPerPage is the page size used when ListOpts.PerPage is zero.
const DefaultPerPage = 10

// SortOrder is the direction of a list sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOpts controls filtering, sorting, and pagination for job list queries.
// Zero values mean "no filter" / defaults.
type ListOpts struct {
	// Type filters by job type. Empty means all types.
	Type Type
	// Status filters by job status. Empty means all statuses.
	Status Status
	// TriggeredBy filters by the creating principal. Nil means all.
	TriggeredBy id.PrincipalID

	// Page is 1-based. Values below 1 are treated as 1.
	Page int
	// PerPage is the page size. Zero means DefaultPerPage.
	PerPage int

	// SortBy names a stored column ("created_at", "updated_at",
	// "started_at", "completed_at", "status", "type", "retry_count").
	// Empty means "created_at". Unsupported names are passed through to
	// the store, which resolves them as it sees fit.
	SortBy string
	// SortOrder defaults to SortDesc.
	SortOrder SortOrder
}

// Fields is a targeted partial update applied atomically by id. Nil pointer
// fields are left untouched; the Clear flags null out their column. Every
// status-changing write in the lifecycle goes through Fields rather than a
// read-modify-write of the whole row, so concurrent writers touching
// different fields cannot clobber each other.
type Fields struct {
	Status        *Status
	Payload       map[string]any
	Result        map[string]any
	ErrorMessage  *string
	ExternalJobID *string
	RetryCount    *int

	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRetryAt *time.Time

	ClearStartedAt   bool
	ClearCompletedAt bool
	ClearNextRetryAt bool

	// ExpectStatus guards the write: when non-empty, the update applies
	// only if the row's current status is listed, and the store reports
	// an invalid-transition error otherwise. This is how a late webhook
	// loses the race against an observed cancellation.
	ExpectStatus []Status
}

// Expects reports whether s satisfies the ExpectStatus guard.
func (f Fields) Expects(s Status) bool {
	if len(f.ExpectStatus) == 0 {
		return true
	}
	for _, want := range f.ExpectStatus {
		if s == want {
			return true
		}
	}
	return false
}

// Store defines the persistence contract for ingestion jobs. It is the
// single source of truth; all components read and write through it, and it
// alone assigns created_at/updated_at.
type Store interface {
	// CreateJob persists a new job. The store stamps the bookkeeping
	// timestamps. Returns a conflict error if the id already exists.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByExternalID resolves the job carrying the given worker-assigned
	// identifier. Used by the webhook reconciler.
	GetJobByExternalID(ctx context.Context, externalJobID string) (*Job, error)

	// UpdateJobFields applies a partial update keyed by id as a single
	// atomic write and returns the updated row. Honors Fields.ExpectStatus.
	UpdateJobFields(ctx context.Context, jobID id.JobID, f Fields) (*Job, error)

	// DeleteJob removes a job by id. Administrative only; the lifecycle
	// never deletes.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns one page of jobs matching opts plus the total count
	// over the whole filtered set, so callers can compute page counts.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, int64, error)

	// Migrate creates or updates the backing schema. No-op for backends
	// without one.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
