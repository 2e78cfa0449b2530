package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

// CreateJob stores the job as a Hash and registers it in the id Set.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ingest/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return ingest.ErrJobAlreadyExists
	}

	j.Entity = ingest.NewEntity()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if j.ExternalJobID != "" {
		pipe.HSet(ctx, externalIDsKey, j.ExternalJobID, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ingest/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// GetJobByExternalID resolves a job through the external-id index.
func (s *Store) GetJobByExternalID(ctx context.Context, externalJobID string) (*job.Job, error) {
	if externalJobID == "" {
		return nil, ingest.ErrJobNotFound
	}

	jID, err := s.client.HGet(ctx, externalIDsKey, externalJobID).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, ingest.ErrJobNotFound
		}
		return nil, fmt.Errorf("ingest/redis: resolve external id: %w", err)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// updateFieldsScript applies a guarded partial update in one atomic step:
// the status guard, the field writes, and the external-id index all happen
// inside Redis, so a late webhook cannot slip past a concurrent cancel.
//
// KEYS[1] = job hash, KEYS[2] = external-id index
// ARGV[1] = JSON array of acceptable statuses (empty = no guard)
// ARGV[2] = JSON object of fields to HSET
// ARGV[3] = JSON array of fields to HDEL
var updateFieldsScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
local status = redis.call('HGET', KEYS[1], 'status')
local expected = cjson.decode(ARGV[1])
if #expected > 0 then
  local ok = false
  for _, s in ipairs(expected) do
    if s == status then ok = true end
  end
  if not ok then
    return 'conflict:' .. status
  end
end
local oldExt = redis.call('HGET', KEYS[1], 'external_job_id') or ''
for f, v in pairs(cjson.decode(ARGV[2])) do
  redis.call('HSET', KEYS[1], f, v)
end
for _, f in ipairs(cjson.decode(ARGV[3])) do
  redis.call('HDEL', KEYS[1], f)
end
local newExt = redis.call('HGET', KEYS[1], 'external_job_id') or ''
if newExt ~= oldExt then
  if oldExt ~= '' then redis.call('HDEL', KEYS[2], oldExt) end
  if newExt ~= '' then
    redis.call('HSET', KEYS[2], newExt, redis.call('HGET', KEYS[1], 'id'))
  end
end
return 'ok'
`)

// UpdateJobFields applies a partial update atomically via a Lua script,
// honoring the ExpectStatus guard.
func (s *Store) UpdateJobFields(ctx context.Context, jobID id.JobID, f job.Fields) (*job.Job, error) {
	sets := map[string]string{
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	dels := []string{}

	if f.Status != nil {
		sets["status"] = string(*f.Status)
	}
	if f.Payload != nil {
		sets["payload"] = marshalJSON(f.Payload)
	}
	if f.Result != nil {
		sets["result"] = marshalJSON(f.Result)
	}
	if f.ErrorMessage != nil {
		sets["error_message"] = *f.ErrorMessage
	}
	if f.ExternalJobID != nil {
		sets["external_job_id"] = *f.ExternalJobID
	}
	if f.RetryCount != nil {
		sets["retry_count"] = strconv.Itoa(*f.RetryCount)
	}
	if f.StartedAt != nil {
		sets["started_at"] = f.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if f.CompletedAt != nil {
		sets["completed_at"] = f.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if f.NextRetryAt != nil {
		sets["next_retry_at"] = f.NextRetryAt.UTC().Format(time.RFC3339Nano)
	}
	if f.ClearStartedAt {
		dels = append(dels, "started_at")
	}
	if f.ClearCompletedAt {
		dels = append(dels, "completed_at")
	}
	if f.ClearNextRetryAt {
		dels = append(dels, "next_retry_at")
	}

	expect := make([]string, len(f.ExpectStatus))
	for i, st := range f.ExpectStatus {
		expect[i] = string(st)
	}

	res, err := updateFieldsScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), externalIDsKey},
		marshalJSON(expect), marshalJSON(sets), marshalJSON(dels),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("ingest/redis: update job fields: %w", err)
	}

	switch {
	case res == "notfound":
		return nil, ingest.ErrJobNotFound
	case strings.HasPrefix(res, "conflict:"):
		return nil, fmt.Errorf("ingest/redis: update job %s in status %s: %w",
			jobID, strings.TrimPrefix(res, "conflict:"), ingest.ErrInvalidTransition)
	}

	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// DeleteJob removes a job and its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	if j.ExternalJobID != "" {
		pipe.HDel(ctx, externalIDsKey, j.ExternalJobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ingest/redis: delete job: %w", err)
	}
	return nil
}

// ListJobs enumerates all jobs and filters, sorts, and paginates in Go.
// Fine for the job volumes this store targets; Postgres is the choice for
// large histories.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("ingest/redis: list job ids: %w", err)
	}

	matched := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			if getErr == ingest.ErrJobNotFound {
				continue // deleted between SMEMBERS and HGETALL
			}
			return nil, 0, getErr
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if !opts.TriggeredBy.IsNil() && j.TriggeredBy.String() != opts.TriggeredBy.String() {
			continue
		}
		matched = append(matched, j)
	}
	total := int64(len(matched))

	sortJobs(matched, opts.SortBy, opts.SortOrder)

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = job.DefaultPerPage
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > perPage {
		matched = matched[:perPage]
	}
	return matched, total, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("ingest/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ingest.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":              j.ID.String(),
		"type":            string(j.Type),
		"status":          string(j.Status),
		"payload":         marshalJSON(j.Payload),
		"result":          marshalJSON(j.Result),
		"error_message":   j.ErrorMessage,
		"external_job_id": j.ExternalJobID,
		"retry_count":     strconv.Itoa(j.RetryCount),
		"max_retries":     strconv.Itoa(j.MaxRetries),
		"triggered_by":    j.TriggeredBy.String(),
		"created_at":      j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.NextRetryAt != nil {
		m["next_retry_at"] = j.NextRetryAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ingest/redis: parse job id %q: %w", m["id"], err)
	}

	j := &job.Job{
		ID:            parsedID,
		Type:          job.Type(m["type"]),
		Status:        job.Status(m["status"]),
		ErrorMessage:  m["error_message"],
		ExternalJobID: m["external_job_id"],
	}

	if m["triggered_by"] != "" {
		j.TriggeredBy, err = id.ParsePrincipalID(m["triggered_by"])
		if err != nil {
			return nil, fmt.Errorf("ingest/redis: parse principal id %q: %w", m["triggered_by"], err)
		}
	}
	if raw := m["payload"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &j.Payload); err != nil {
			return nil, fmt.Errorf("ingest/redis: decode payload: %w", err)
		}
	}
	if raw := m["result"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &j.Result); err != nil {
			return nil, fmt.Errorf("ingest/redis: decode result: %w", err)
		}
	}
	j.RetryCount, _ = strconv.Atoi(m["retry_count"])
	j.MaxRetries, _ = strconv.Atoi(m["max_retries"])

	j.CreatedAt = parseTime(m["created_at"])
	j.UpdatedAt = parseTime(m["updated_at"])
	j.StartedAt = parseTimePtr(m["started_at"])
	j.CompletedAt = parseTimePtr(m["completed_at"])
	j.NextRetryAt = parseTimePtr(m["next_retry_at"])
	return j, nil
}

// sortJobs orders jobs in place. Unknown sort keys fall back to created_at,
// matching the other stores. Nil timestamps order last in both directions,
// like the SQL store's NULLS LAST.
func sortJobs(jobs []*job.Job, sortBy string, order job.SortOrder) {
	less := jobLess(sortBy, order != job.SortAsc)
	sort.SliceStable(jobs, func(i, k int) bool { return less(jobs[i], jobs[k]) })
}

func jobLess(sortBy string, desc bool) func(a, b *job.Job) bool {
	flip := func(less func(a, b *job.Job) bool) func(a, b *job.Job) bool {
		if !desc {
			return less
		}
		return func(a, b *job.Job) bool { return less(b, a) }
	}
	nullsLast := func(at func(*job.Job) *time.Time) func(a, b *job.Job) bool {
		return func(a, b *job.Job) bool {
			ta, tb := at(a), at(b)
			switch {
			case ta == nil:
				return false
			case tb == nil:
				return true
			case desc:
				return tb.Before(*ta)
			default:
				return ta.Before(*tb)
			}
		}
	}

	switch strings.ToLower(sortBy) {
	case "updated_at":
		return flip(func(a, b *job.Job) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	case "started_at":
		return nullsLast(func(j *job.Job) *time.Time { return j.StartedAt })
	case "completed_at":
		return nullsLast(func(j *job.Job) *time.Time { return j.CompletedAt })
	case "status":
		return flip(func(a, b *job.Job) bool { return a.Status < b.Status })
	case "type":
		return flip(func(a, b *job.Job) bool { return a.Type < b.Type })
	case "retry_count":
		return flip(func(a, b *job.Job) bool { return a.RetryCount < b.RetryCount })
	default:
		return flip(func(a, b *job.Job) bool { return a.CreatedAt.Before(b.CreatedAt) })
	}
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
