// Package api exposes the ingestion lifecycle over HTTP using Forge-style
// handlers with OpenAPI metadata. All state transitions go through the
// lifecycle manager; no handler writes job rows directly.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/lifecycle"
)

// DefaultBasePath is the URL prefix for all ingestion routes.
const DefaultBasePath = "/api/ingestion"

// API wires the ingestion HTTP handlers together.
type API struct {
	mgr      *lifecycle.Manager
	router   forge.Router
	basePath string

	// webhookSecret, when set, must match the X-Ingest-Secret header on
	// worker status updates. Empty means the webhook is open, for
	// deployments that authenticate at the network layer.
	webhookSecret string
}

// Option configures the API.
type Option func(*API)

// WithWebhookSecret requires worker status updates to carry the shared
// secret in the X-Ingest-Secret header.
func WithWebhookSecret(secret string) Option {
	return func(a *API) { a.webhookSecret = secret }
}

// WithBasePath overrides the URL prefix for all ingestion routes.
func WithBasePath(path string) Option {
	return func(a *API) { a.basePath = path }
}

// New creates an API over the given lifecycle Manager.
func New(mgr *lifecycle.Manager, router forge.Router, opts ...Option) *API {
	a := &API{mgr: mgr, router: router, basePath: DefaultBasePath}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all ingestion API routes into the given Forge
// router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerWebhookRoutes(router)
}

func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("ingestion"))

	_ = g.POST("/trigger", a.triggerJob,
		forge.WithSummary("Trigger ingestion"),
		forge.WithDescription("Creates an ingestion job and dispatches document jobs to the worker."),
		forge.WithOperationID("triggerIngestion"),
		forge.WithRequestSchema(TriggerRequest{}),
		forge.WithResponseSchema(http.StatusCreated, "Created job", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs filtered by type, status, and principal, paginated."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job page", &lifecycle.Page{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/my-jobs", a.listMyJobs,
		forge.WithSummary("List my jobs"),
		forge.WithDescription("Returns the calling principal's jobs, most recent first."),
		forge.WithOperationID("listMyJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job page", &lifecycle.Page{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/active", a.listActiveJobs,
		forge.WithSummary("List active jobs"),
		forge.WithDescription("Returns currently processing jobs, oldest first."),
		forge.WithOperationID("listActiveJobs"),
		forge.WithResponseSchema(http.StatusOK, "Active jobs", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/by-status/:status", a.listJobsByStatus,
		forge.WithSummary("List jobs by status"),
		forge.WithDescription("Returns jobs in the given status."),
		forge.WithOperationID("listJobsByStatus"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job page", &lifecycle.Page{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns details of a specific ingestion job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:jobId/retry", a.retryJob,
		forge.WithSummary("Retry job"),
		forge.WithDescription("Re-queues a failed job within its retry budget, merging any new payload keys."),
		forge.WithOperationID("retryJob"),
		forge.WithRequestSchema(RetryRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Retried job", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:jobId/cancel", a.cancelJob,
		forge.WithSummary("Cancel job"),
		forge.WithDescription("Cancels a pending or processing job."),
		forge.WithOperationID("cancelJob"),
		forge.WithRequestSchema(CancelRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Cancelled job", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.DELETE("/jobs/:jobId", a.deleteJob,
		forge.WithSummary("Delete job"),
		forge.WithDescription("Removes a job record. Administrative only."),
		forge.WithOperationID("deleteJob"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)
}

func (a *API) registerWebhookRoutes(router forge.Router) {
	g := router.Group(a.basePath, forge.WithGroupTags("webhook"))

	_ = g.POST("/webhook/status-update", a.statusUpdate,
		forge.WithSummary("Worker status update"),
		forge.WithDescription("Reconciles a worker-reported status into job state."),
		forge.WithOperationID("workerStatusUpdate"),
		forge.WithRequestSchema(StatusUpdateRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated job", &job.Job{}),
		forge.WithErrorResponses(),
	)
}
