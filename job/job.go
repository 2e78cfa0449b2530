package job

import (
	"fmt"
	"time"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
)

// Status represents the lifecycle status of an ingestion job.
type Status string

const (
	// StatusPending means the job exists but the external worker has not
	// accepted it yet.
	StatusPending Status = "pending"
	// StatusProcessing means the external worker accepted the job and is
	// working on it.
	StatusProcessing Status = "processing"
	// StatusCompleted means the worker reported success.
	StatusCompleted Status = "completed"
	// StatusFailed means dispatch failed or the worker reported failure.
	// Failed jobs may re-enter pending via retry while budget remains.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled. Final: no
	// later worker report may overwrite it.
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status string from an external caller.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("job: unknown status %q", s)
	}
}

// Type classifies what kind of ingestion a job performs. Fixed at creation.
type Type string

const (
	// TypeDocument ingests a single document; dispatched to the external
	// worker immediately on creation.
	TypeDocument Type = "document"
	// TypeBatch ingests a set of documents; dispatched explicitly.
	TypeBatch Type = "batch"
	// TypeScheduled is created by the schedule package on a cron
	// expression; dispatched explicitly.
	TypeScheduled Type = "scheduled"
)

// ParseType validates a type string from an external caller.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeDocument, TypeBatch, TypeScheduled:
		return Type(s), nil
	default:
		return "", fmt.Errorf("job: unknown type %q", s)
	}
}

// Job is the durable record of one unit of externally-performed ingestion
// work. The job store is the only component that assigns the embedded
// bookkeeping timestamps; everything else mutates jobs through targeted
// field updates.
type Job struct {
	ingest.Entity

	ID            id.JobID       `json:"id"`
	Type          Type           `json:"type"`
	Status        Status         `json:"status"`
	Payload       map[string]any `json:"payload"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ExternalJobID string         `json:"external_job_id,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty"`
	TriggeredBy   id.PrincipalID `json:"triggered_by,omitempty"`
}
