package job

import (
	"maps"
	"time"
)

// Derived values are pure functions over the record's fields rather than
// methods carrying behavior on the persisted type, so the query and
// reconciliation layers can compute them on rows they did not load through
// any particular codepath.

// Terminal reports whether s admits no further worker-driven transitions.
// Failed is terminal for the worker but re-enterable via retry.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether the job is still pending or processing.
func IsActive(j *Job) bool {
	return j.Status == StatusPending || j.Status == StatusProcessing
}

// CanRetry reports whether a retry request would be accepted: the job must
// have failed and have budget left.
func CanRetry(j *Job) bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// Duration returns how long the job has been (or was) running: completion
// time, or now for a job still in flight, minus the start time. Zero if the
// job never started.
func Duration(j *Job) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// Progress returns the coarse three-level progress percentage: 100 when
// completed, 50 while processing, 0 otherwise. The external worker reports
// no finer granularity.
func Progress(j *Job) int {
	switch j.Status {
	case StatusCompleted:
		return 100
	case StatusProcessing:
		return 50
	default:
		return 0
	}
}

// MergePayload shallow-merges overlay keys over base and returns a new map;
// neither input is mutated. Base keys absent from the overlay survive — this
// is observable retry behavior, not an implementation convenience.
func MergePayload(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	maps.Copy(merged, base)
	maps.Copy(merged, overlay)
	return merged
}
