package lifecycle

import (
	"context"
	"fmt"

	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

// WidePerPage is the default page size for the active and by-status
// listings, which are skimmed rather than paged through.
const WidePerPage = 20

// Page is one page of a job listing together with the unpaginated total.
type Page struct {
	Jobs    []*job.Job `json:"jobs"`
	Total   int64      `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"perPage"`
}

// List returns one page of jobs matching opts. Zero page and per-page
// values fall back to the store defaults.
func (m *Manager) List(ctx context.Context, opts job.ListOpts) (*Page, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = job.DefaultPerPage
	}

	jobs, total, err := m.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list jobs: %w", err)
	}
	return &Page{Jobs: jobs, Total: total, Page: opts.Page, PerPage: opts.PerPage}, nil
}

// ListByPrincipal returns one page of the jobs triggered by the given
// principal, most recent first.
func (m *Manager) ListByPrincipal(ctx context.Context, principal id.PrincipalID, opts job.ListOpts) (*Page, error) {
	opts.TriggeredBy = principal
	return m.List(ctx, opts)
}

// ListByStatus returns one page of jobs in the given status. The wide
// default page size applies when opts leaves it unset.
func (m *Manager) ListByStatus(ctx context.Context, status job.Status, opts job.ListOpts) (*Page, error) {
	if _, err := job.ParseStatus(string(status)); err != nil {
		return nil, fmt.Errorf("lifecycle: list by status: %w", err)
	}
	opts.Status = status
	if opts.PerPage <= 0 {
		opts.PerPage = WidePerPage
	}
	return m.List(ctx, opts)
}

// ListActive returns the oldest currently-processing jobs, in dispatch
// order so the longest-running work surfaces first.
func (m *Manager) ListActive(ctx context.Context) ([]*job.Job, error) {
	page, err := m.List(ctx, job.ListOpts{
		Status:    job.StatusProcessing,
		PerPage:   WidePerPage,
		SortBy:    "created_at",
		SortOrder: job.SortAsc,
	})
	if err != nil {
		return nil, err
	}
	return page.Jobs, nil
}
