package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/lifecycle"
)

func (a *API) triggerJob(ctx forge.Context, req *TriggerRequest) (*job.Job, error) {
	p, err := requireRole(ctx.Context(), ingest.RoleEditor)
	if err != nil {
		return nil, err
	}

	typ, err := job.ParseType(req.Type)
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job type: %v", err))
	}

	j, err := a.mgr.Create(ctx.Context(), lifecycle.CreateRequest{
		Type:        typ,
		Payload:     req.Payload,
		MaxRetries:  req.MaxRetries,
		TriggeredBy: p.ID,
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	return j, ctx.JSON(http.StatusCreated, j)
}

func (a *API) listJobs(ctx forge.Context, req *ListJobsRequest) (*lifecycle.Page, error) {
	if _, err := requireRole(ctx.Context(), ingest.RoleEditor); err != nil {
		return nil, err
	}

	opts, err := listOpts(req)
	if err != nil {
		return nil, err
	}

	page, err := a.mgr.List(ctx.Context(), opts)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return page, ctx.JSON(http.StatusOK, page)
}

func (a *API) listMyJobs(ctx forge.Context, req *ListJobsRequest) (*lifecycle.Page, error) {
	p, err := requirePrincipal(ctx.Context())
	if err != nil {
		return nil, err
	}

	opts, err := listOpts(req)
	if err != nil {
		return nil, err
	}

	page, err := a.mgr.ListByPrincipal(ctx.Context(), p.ID, opts)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return page, ctx.JSON(http.StatusOK, page)
}

func (a *API) listActiveJobs(ctx forge.Context) error {
	if _, err := requireRole(ctx.Context(), ingest.RoleEditor); err != nil {
		return err
	}

	jobs, err := a.mgr.ListActive(ctx.Context())
	if err != nil {
		return mapStoreError(err)
	}
	return ctx.JSON(http.StatusOK, jobs)
}

func (a *API) listJobsByStatus(ctx forge.Context, req *ListJobsRequest) (*lifecycle.Page, error) {
	if _, err := requireRole(ctx.Context(), ingest.RoleEditor); err != nil {
		return nil, err
	}

	status, err := job.ParseStatus(ctx.Param("status"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid status: %v", err))
	}

	opts, err := listOpts(req)
	if err != nil {
		return nil, err
	}

	page, err := a.mgr.ListByStatus(ctx.Context(), status, opts)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return page, ctx.JSON(http.StatusOK, page)
}

func (a *API) getJob(ctx forge.Context, _ *GetJobRequest) (*job.Job, error) {
	if _, err := requireRole(ctx.Context(), ingest.RoleEditor); err != nil {
		return nil, err
	}

	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	j, err := a.mgr.Get(ctx.Context(), jobID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return j, ctx.JSON(http.StatusOK, j)
}

func (a *API) retryJob(ctx forge.Context, req *RetryRequest) (*job.Job, error) {
	if _, err := requireRole(ctx.Context(), ingest.RoleEditor); err != nil {
		return nil, err
	}

	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	j, err := a.mgr.Retry(ctx.Context(), jobID, req.Payload)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return j, ctx.JSON(http.StatusOK, j)
}

func (a *API) cancelJob(ctx forge.Context, req *CancelRequest) (*job.Job, error) {
	if _, err := requireRole(ctx.Context(), ingest.RoleEditor); err != nil {
		return nil, err
	}

	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	j, err := a.mgr.Cancel(ctx.Context(), jobID, req.Reason)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return j, ctx.JSON(http.StatusOK, j)
}

func (a *API) deleteJob(ctx forge.Context, _ *GetJobRequest) (*struct{}, error) {
	if _, err := requireRole(ctx.Context(), ingest.RoleAdmin); err != nil {
		return nil, err
	}

	jobID, err := parseJobID(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.mgr.Delete(ctx.Context(), jobID); err != nil {
		return nil, mapStoreError(err)
	}
	return nil, ctx.NoContent(http.StatusNoContent)
}

func parseJobID(ctx forge.Context) (id.JobID, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return id.Nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}
	return jobID, nil
}

func listOpts(req *ListJobsRequest) (job.ListOpts, error) {
	opts := job.ListOpts{
		Page:      req.Page,
		PerPage:   req.PerPage,
		SortBy:    req.SortBy,
		SortOrder: job.SortOrder(req.SortOrder),
	}
	if req.Type != "" {
		typ, err := job.ParseType(req.Type)
		if err != nil {
			return job.ListOpts{}, forge.BadRequest(fmt.Sprintf("invalid job type: %v", err))
		}
		opts.Type = typ
	}
	if req.Status != "" {
		status, err := job.ParseStatus(req.Status)
		if err != nil {
			return job.ListOpts{}, forge.BadRequest(fmt.Sprintf("invalid status: %v", err))
		}
		opts.Status = status
	}
	return opts, nil
}

// requirePrincipal rejects requests carrying no authenticated principal.
func requirePrincipal(ctx context.Context) (ingest.Principal, error) {
	p, ok := ingest.PrincipalFromContext(ctx)
	if !ok {
		return ingest.Principal{}, forge.Unauthorized("no authenticated principal")
	}
	return p, nil
}

// requireRole rejects principals below the given capability level.
func requireRole(ctx context.Context, role ingest.Role) (ingest.Principal, error) {
	p, err := requirePrincipal(ctx)
	if err != nil {
		return ingest.Principal{}, err
	}
	switch role {
	case ingest.RoleAdmin:
		if p.Role != ingest.RoleAdmin {
			return ingest.Principal{}, forge.Forbidden("admin role required")
		}
	case ingest.RoleEditor:
		if !p.Role.Elevated() {
			return ingest.Principal{}, forge.Forbidden("editor role required")
		}
	}
	return p, nil
}

// mapStoreError converts ingest sentinel errors to forge HTTP errors.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ingest.ErrJobNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, ingest.ErrInvalidTransition):
		return forge.BadRequest(err.Error())
	}
	return err
}
