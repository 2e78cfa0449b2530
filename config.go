package ingest

import "time"

// WorkerConfig holds the external worker endpoint configuration consumed by
// the dispatcher. It is injected at construction so the dispatcher can be
// pointed at a fake endpoint in tests.
type WorkerConfig struct {
	// BaseURL is the root URL of the external worker, e.g.
	// "http://localhost:8000".
	BaseURL string

	// TriggerPath is the path of the trigger endpoint, appended to BaseURL.
	TriggerPath string

	// CancelPath is the path of the cancel endpoint, appended to BaseURL.
	CancelPath string

	// Timeout bounds each outbound call. On expiry the dispatch outcome is
	// a failure, never a hang.
	Timeout time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BaseURL:     "http://localhost:8000",
		TriggerPath: "/api/ingestion/trigger",
		CancelPath:  "/api/ingestion/cancel",
		Timeout:     30 * time.Second,
	}
}
