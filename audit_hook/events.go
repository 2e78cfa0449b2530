package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated    = "job.created"
	ActionJobDispatched = "job.dispatched"
	ActionJobCompleted  = "job.completed"
	ActionJobFailed     = "job.failed"
	ActionJobRetried    = "job.retried"
	ActionJobCancelled  = "job.cancelled"
)

// CategoryJob groups all ingestion job actions.
const CategoryJob = "ingest.job"

// ResourceJob is the Resource field for job audit events.
const ResourceJob = "ingestion_job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobDispatched,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetried,
		ActionJobCancelled,
	}
}
