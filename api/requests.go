package api

// TriggerRequest is the body for creating an ingestion job.
type TriggerRequest struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	MaxRetries int            `json:"maxRetries,omitempty"`
}

// ListJobsRequest carries the shared filter and pagination query
// parameters for the list endpoints.
type ListJobsRequest struct {
	Type      string `query:"type"`
	Status    string `query:"status"`
	Page      int    `query:"page"`
	PerPage   int    `query:"perPage"`
	SortBy    string `query:"sortBy"`
	SortOrder string `query:"sortOrder"`
}

// GetJobRequest identifies a job by path parameter.
type GetJobRequest struct {
	JobID string `path:"jobId"`
}

// RetryRequest is the body for retrying a failed job. Payload keys, when
// present, are merged over the job's existing payload.
type RetryRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

// CancelRequest is the body for cancelling a job.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StatusUpdateRequest is the webhook body posted by the external worker.
type StatusUpdateRequest struct {
	JobID  string         `json:"jobId"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`

	Secret string `header:"X-Ingest-Secret"`
}
