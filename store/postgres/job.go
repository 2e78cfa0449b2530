package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/id"
	"github.com/xraph/ingest/job"
)

// jobColumns is the canonical column list shared by every job query.
const jobColumns = `
	id, type, status, payload, result, error_message, external_job_id,
	retry_count, max_retries, triggered_by,
	started_at, completed_at, next_retry_at, created_at, updated_at`

// sortColumns whitelists the ORDER BY targets. Unknown sort keys fall
// back to created_at; nullable timestamps sort with NULLS LAST in both
// directions to match the memory store.
var sortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"started_at":   "started_at",
	"completed_at": "completed_at",
	"status":       "status",
	"type":         "type",
	"retry_count":  "retry_count",
}

var nullableSortColumns = map[string]bool{
	"started_at":   true,
	"completed_at": true,
}

// CreateJob persists a new job. The database stamps the bookkeeping
// timestamps, which are read back onto j.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ingest_jobs (
			id, type, status, payload, result, error_message, external_job_id,
			retry_count, max_retries, triggered_by,
			started_at, completed_at, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13
		)
		RETURNING created_at, updated_at`,
		j.ID.String(), string(j.Type), string(j.Status), j.Payload, j.Result,
		j.ErrorMessage, j.ExternalJobID,
		j.RetryCount, j.MaxRetries, j.TriggeredBy.String(),
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
	)
	if err := row.Scan(&j.CreatedAt, &j.UpdatedAt); err != nil {
		if isDuplicateKey(err) {
			return ingest.ErrJobAlreadyExists
		}
		return fmt.Errorf("ingest/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ingest.ErrJobNotFound
		}
		return nil, fmt.Errorf("ingest/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByExternalID resolves a job by its worker-assigned identifier.
func (s *Store) GetJobByExternalID(ctx context.Context, externalJobID string) (*job.Job, error) {
	if externalJobID == "" {
		return nil, ingest.ErrJobNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE external_job_id = $1`,
		externalJobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ingest.ErrJobNotFound
		}
		return nil, fmt.Errorf("ingest/postgres: get job by external id: %w", err)
	}
	return j, nil
}

// UpdateJobFields applies a partial update as a single UPDATE statement.
// The ExpectStatus guard becomes part of the WHERE clause, so guard and
// write are one atomic operation.
func (s *Store) UpdateJobFields(ctx context.Context, jobID id.JobID, f job.Fields) (*job.Job, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{jobID.String()}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.Payload != nil {
		add("payload", f.Payload)
	}
	if f.Result != nil {
		add("result", f.Result)
	}
	if f.ErrorMessage != nil {
		add("error_message", *f.ErrorMessage)
	}
	if f.ExternalJobID != nil {
		add("external_job_id", *f.ExternalJobID)
	}
	if f.RetryCount != nil {
		add("retry_count", *f.RetryCount)
	}
	if f.StartedAt != nil {
		add("started_at", f.StartedAt.UTC())
	}
	if f.CompletedAt != nil {
		add("completed_at", f.CompletedAt.UTC())
	}
	if f.NextRetryAt != nil {
		add("next_retry_at", f.NextRetryAt.UTC())
	}
	if f.ClearStartedAt {
		set = append(set, "started_at = NULL")
	}
	if f.ClearCompletedAt {
		set = append(set, "completed_at = NULL")
	}
	if f.ClearNextRetryAt {
		set = append(set, "next_retry_at = NULL")
	}

	where := "id = $1"
	if len(f.ExpectStatus) > 0 {
		expect := make([]string, len(f.ExpectStatus))
		for i, st := range f.ExpectStatus {
			expect[i] = string(st)
		}
		args = append(args, expect)
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE ingest_jobs SET `+strings.Join(set, ", ")+
			` WHERE `+where+` RETURNING `+jobColumns,
		args...,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.explainMissedUpdate(ctx, jobID)
		}
		return nil, fmt.Errorf("ingest/postgres: update job fields: %w", err)
	}
	return j, nil
}

// explainMissedUpdate tells a missing row apart from a failed status
// guard after an UPDATE matched nothing.
func (s *Store) explainMissedUpdate(ctx context.Context, jobID id.JobID) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM ingest_jobs WHERE id = $1`,
		jobID.String(),
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return ingest.ErrJobNotFound
		}
		return fmt.Errorf("ingest/postgres: explain missed update: %w", err)
	}
	return fmt.Errorf("ingest/postgres: update job %s in status %s: %w",
		jobID, status, ingest.ErrInvalidTransition)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ingest_jobs WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("ingest/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrJobNotFound
	}
	return nil
}

// ListJobs returns one page of jobs matching opts plus the total filtered
// count.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, int64, error) {
	where := []string{"TRUE"}
	args := []any{}
	filter := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if opts.Type != "" {
		filter("type", string(opts.Type))
	}
	if opts.Status != "" {
		filter("status", string(opts.Status))
	}
	if !opts.TriggeredBy.IsNil() {
		filter("triggered_by", opts.TriggeredBy.String())
	}
	cond := strings.Join(where, " AND ")

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ingest_jobs WHERE `+cond,
		args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ingest/postgres: count jobs: %w", err)
	}

	col, ok := sortColumns[strings.ToLower(opts.SortBy)]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if opts.SortOrder == job.SortAsc {
		dir = "ASC"
	}
	orderBy := col + " " + dir
	if nullableSortColumns[col] {
		orderBy += " NULLS LAST"
	}

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = job.DefaultPerPage
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE `+cond+
			` ORDER BY `+orderBy+
			fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ingest/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		rawID       string
		rawType     string
		rawStatus   string
		triggeredBy string
	)

	err := row.Scan(
		&rawID, &rawType, &rawStatus, &j.Payload, &j.Result,
		&j.ErrorMessage, &j.ExternalJobID,
		&j.RetryCount, &j.MaxRetries, &triggeredBy,
		&j.StartedAt, &j.CompletedAt, &j.NextRetryAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("ingest/postgres: parse job id %q: %w", rawID, err)
	}
	if triggeredBy != "" {
		j.TriggeredBy, err = id.ParsePrincipalID(triggeredBy)
		if err != nil {
			return nil, fmt.Errorf("ingest/postgres: parse principal id %q: %w", triggeredBy, err)
		}
	}
	j.Type = job.Type(rawType)
	j.Status = job.Status(rawStatus)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ingest/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingest/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}
