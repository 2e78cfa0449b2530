// Package memory provides a fully in-memory job.Store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

var _ job.Store = (*Store)(nil)

// Store keeps all jobs in a single mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateJob persists a new job and stamps its bookkeeping timestamps.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return ingest.ErrJobAlreadyExists
	}

	j.Entity = ingest.NewEntity()
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ingest.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// GetJobByExternalID resolves a job by its worker-assigned identifier.
func (m *Store) GetJobByExternalID(_ context.Context, externalJobID string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if externalJobID == "" {
		return nil, ingest.ErrJobNotFound
	}
	for _, j := range m.jobs {
		if j.ExternalJobID == externalJobID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ingest.ErrJobNotFound
}

// UpdateJobFields applies a partial update as one atomic write under the
// store lock, honoring the ExpectStatus guard.
func (m *Store) UpdateJobFields(_ context.Context, jobID id.JobID, f job.Fields) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ingest.ErrJobNotFound
	}
	if !f.Expects(j.Status) {
		return nil, fmt.Errorf("memory: update job %s in status %s: %w",
			jobID, j.Status, ingest.ErrInvalidTransition)
	}

	cp := *j
	applyFields(&cp, f)
	cp.Touch()
	m.jobs[jobID.String()] = &cp

	out := cp
	return &out, nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return ingest.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns one page of jobs matching opts plus the total filtered
// count.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if !opts.TriggeredBy.IsNil() && j.TriggeredBy.String() != opts.TriggeredBy.String() {
			continue
		}
		cp := *j
		matched = append(matched, &cp)
	}
	total := int64(len(matched))

	sortJobs(matched, opts.SortBy, opts.SortOrder)

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = job.DefaultPerPage
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > perPage {
		matched = matched[:perPage]
	}
	return matched, total, nil
}

// sortJobs orders jobs in place. Unknown sort keys fall back to created_at,
// mirroring the column whitelist in the SQL store. Nil timestamps order
// last in both directions, like the SQL store's NULLS LAST.
func sortJobs(jobs []*job.Job, sortBy string, order job.SortOrder) {
	less := jobLess(sortBy, order != job.SortAsc)
	sort.SliceStable(jobs, func(i, k int) bool { return less(jobs[i], jobs[k]) })
}

func jobLess(sortBy string, desc bool) func(a, b *job.Job) bool {
	flip := func(less func(a, b *job.Job) bool) func(a, b *job.Job) bool {
		if !desc {
			return less
		}
		return func(a, b *job.Job) bool { return less(b, a) }
	}
	// Nil handling stays outside the direction flip so nils land last
	// either way.
	nullsLast := func(at func(*job.Job) *time.Time) func(a, b *job.Job) bool {
		return func(a, b *job.Job) bool {
			ta, tb := at(a), at(b)
			switch {
			case ta == nil:
				return false
			case tb == nil:
				return true
			case desc:
				return tb.Before(*ta)
			default:
				return ta.Before(*tb)
			}
		}
	}

	switch strings.ToLower(sortBy) {
	case "updated_at":
		return flip(func(a, b *job.Job) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	case "started_at":
		return nullsLast(func(j *job.Job) *time.Time { return j.StartedAt })
	case "completed_at":
		return nullsLast(func(j *job.Job) *time.Time { return j.CompletedAt })
	case "status":
		return flip(func(a, b *job.Job) bool { return a.Status < b.Status })
	case "type":
		return flip(func(a, b *job.Job) bool { return a.Type < b.Type })
	case "retry_count":
		return flip(func(a, b *job.Job) bool { return a.RetryCount < b.RetryCount })
	default:
		return flip(func(a, b *job.Job) bool { return a.CreatedAt.Before(b.CreatedAt) })
	}
}

// applyFields copies the set members of f onto j.
func applyFields(j *job.Job, f job.Fields) {
	if f.Status != nil {
		j.Status = *f.Status
	}
	if f.Payload != nil {
		j.Payload = f.Payload
	}
	if f.Result != nil {
		j.Result = f.Result
	}
	if f.ErrorMessage != nil {
		j.ErrorMessage = *f.ErrorMessage
	}
	if f.ExternalJobID != nil {
		j.ExternalJobID = *f.ExternalJobID
	}
	if f.RetryCount != nil {
		j.RetryCount = *f.RetryCount
	}
	if f.StartedAt != nil {
		t := f.StartedAt.UTC()
		j.StartedAt = &t
	}
	if f.CompletedAt != nil {
		t := f.CompletedAt.UTC()
		j.CompletedAt = &t
	}
	if f.NextRetryAt != nil {
		t := f.NextRetryAt.UTC()
		j.NextRetryAt = &t
	}
	if f.ClearStartedAt {
		j.StartedAt = nil
	}
	if f.ClearCompletedAt {
		j.CompletedAt = nil
	}
	if f.ClearNextRetryAt {
		j.NextRetryAt = nil
	}
}
