package redis

// Redis key naming conventions for ingestion data.
// All keys are prefixed with "ingest:" to avoid collisions.

const keyPrefix = "ingest:"

// jobKey returns the key for a job entity: ingest:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// externalIDsKey maps worker-assigned identifiers to job IDs for the
// webhook lookup path.
const externalIDsKey = keyPrefix + "external_ids"
