package ingest

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("ingest: no store configured")
	ErrStoreClosed     = errors.New("ingest: store closed")
	ErrMigrationFailed = errors.New("ingest: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("ingest: job not found")
	ErrEntryNotFound = errors.New("ingest: schedule entry not found")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("ingest: job already exists")
	ErrEntryAlreadyExists = errors.New("ingest: schedule entry already exists")

	// Transition errors. ErrInvalidTransition is the umbrella sentinel;
	// the specific ones wrap it so errors.Is matches either.
	ErrInvalidTransition  = errors.New("ingest: invalid state transition")
	ErrMaxRetriesExceeded = fmt.Errorf("ingest: max retries exceeded: %w", ErrInvalidTransition)
	ErrJobNotActive       = fmt.Errorf("ingest: job is not active: %w", ErrInvalidTransition)
	ErrUnknownStatus      = fmt.Errorf("ingest: unknown worker status: %w", ErrInvalidTransition)

	// Dispatch errors. Never propagated to callers of Create/Retry;
	// absorbed into job state. Exposed for dispatcher-level tests.
	ErrDispatchFailed = errors.New("ingest: dispatch failed")
)
