package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const jobColumns = `id, knowledge_base_id, files, status, error, files_total, files_failed, results, created_at, updated_at`

const createJobSQL = `
INSERT INTO ingest_jobs (id, knowledge_base_id, files, status, files_total)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at;
`

const getJobSQL = `SELECT ` + jobColumns + ` FROM ingest_jobs WHERE id = $1;`

const updateJobSQL = `
UPDATE ingest_jobs
SET status       = $2,
    error        = $3,
    files_failed = $4,
    results      = $5,
    updated_at   = now()
WHERE id = $1
RETURNING updated_at;
`

// Jobs left running past the cutoff belong to a worker that died mid-run.
const staleJobsSQL = `
SELECT ` + jobColumns + `
FROM ingest_jobs
WHERE status = 'running' AND updated_at < $1
ORDER BY updated_at
LIMIT $2;
`

const requeueJobSQL = `
UPDATE ingest_jobs
SET status = 'queued', updated_at = now()
WHERE id = $1 AND status = 'running'
RETURNING id;
`

// CreateJob stores a new job. CreatedAt and UpdatedAt are set from the
// database clock.
func (s *Store) CreateJob(ctx context.Context, job *common.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is empty")
	}
	if job.Status == "" {
		job.Status = common.JobQueued
	}
	files, err := json.Marshal(nonNilFiles(job.Files))
	if err != nil {
		return fmt.Errorf("encode job files: %w", err)
	}
	job.FilesTotal = len(job.Files)

	err = s.conn.QueryRow(ctx, createJobSQL,
		job.ID, job.KnowledgeBaseID, files, string(job.Status), job.FilesTotal,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*common.Job, error) {
	job, err := scanJob(s.conn.QueryRow(ctx, getJobSQL, id))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob persists the mutable fields of job: status, error, failure
// count and per-file results.
func (s *Store) UpdateJob(ctx context.Context, job *common.Job) error {
	results, err := json.Marshal(nonNilResults(job.Results))
	if err != nil {
		return fmt.Errorf("encode job results: %w", err)
	}
	err = s.conn.QueryRow(ctx, updateJobSQL,
		job.ID, string(job.Status), job.Error, job.FilesFailed, results,
	).Scan(&job.UpdatedAt)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// StaleJobs lists running jobs whose last update is older than olderThan.
func (s *Store) StaleJobs(ctx context.Context, olderThan time.Duration, limit int) ([]common.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, staleJobsSQL, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []common.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// RequeueJob moves a running job back to queued. It reports false when the
// job changed state in the meantime.
func (s *Store) RequeueJob(ctx context.Context, id string) (bool, error) {
	var got string
	err := s.conn.QueryRow(ctx, requeueJobSQL, id).Scan(&got)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("requeue job %s: %w", id, err)
	}
	return true, nil
}

func scanJob(row rowScanner) (*common.Job, error) {
	var (
		job     common.Job
		status  string
		files   []byte
		results []byte
	)
	err := row.Scan(
		&job.ID, &job.KnowledgeBaseID, &files, &status, &job.Error,
		&job.FilesTotal, &job.FilesFailed, &results, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = common.JobStatus(status)
	if len(files) > 0 {
		if err := json.Unmarshal(files, &job.Files); err != nil {
			return nil, fmt.Errorf("decode files of job %s: %w", job.ID, err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.Results); err != nil {
			return nil, fmt.Errorf("decode results of job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func nonNilFiles(f []common.JobFile) []common.JobFile {
	if f == nil {
		return []common.JobFile{}
	}
	return f
}

func nonNilResults(r []common.JobFileResult) []common.JobFileResult {
	if r == nil {
		return []common.JobFileResult{}
	}
	return r
}
