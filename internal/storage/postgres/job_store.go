// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mgoodale/webscout/internal/research"
)

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PoolConfig controls the shared Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx pool from the config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore persists jobs and results in Postgres.
type JobStore struct {
	pool dbPool
}

var _ research.JobStore = (*JobStore)(nil)

// NewJobStore creates a Postgres-backed JobStore with its own pool.
// It assumes table schemas like:
//
//	CREATE TABLE jobs (
//		id TEXT PRIMARY KEY,
//		user_id TEXT NOT NULL REFERENCES users(id),
//		query TEXT NOT NULL,
//		domain TEXT NOT NULL DEFAULT '',
//		status TEXT NOT NULL,
//		options JSONB NOT NULL DEFAULT '{}',
//		provider_job_id TEXT NOT NULL DEFAULT '',
//		credits_used INT NOT NULL DEFAULT 0,
//		error_message TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL,
//		started_at TIMESTAMPTZ,
//		completed_at TIMESTAMPTZ
//	);
//
//	CREATE TABLE results (
//		id TEXT PRIMARY KEY,
//		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
//		url TEXT NOT NULL DEFAULT '',
//		title TEXT NOT NULL DEFAULT '',
//		content TEXT NOT NULL DEFAULT '',
//		content_type TEXT NOT NULL DEFAULT '',
//		metadata JSONB,
//		created_at TIMESTAMPTZ NOT NULL
//	);
func NewJobStore(ctx context.Context, cfg PoolConfig) (*JobStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job *research.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	query := `
INSERT INTO jobs (
	id, user_id, query, domain, status, options,
	provider_job_id, credits_used, error_message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	args := []any{
		job.ID,
		job.UserID,
		job.Query,
		job.Domain,
		string(job.Status),
		options,
		job.ProviderJobID,
		job.CreditsUsed,
		job.ErrorMessage,
		job.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, query, domain, status, options,
	provider_job_id, credits_used, error_message, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*research.Job, error) {
	var (
		job     research.Job
		status  string
		options []byte
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Query,
		&job.Domain,
		&status,
		&options,
		&job.ProviderJobID,
		&job.CreditsUsed,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, research.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = research.JobStatus(status)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	return &job, nil
}

// GetJob fetches a single job by id.
func (s *JobStore) GetJob(ctx context.Context, id string) (*research.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return scanJob(s.pool.QueryRow(ctx, query, id))
}

// ListJobs returns a user's jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context, userID string, limit, offset int) ([]*research.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT %s FROM jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, jobColumns)

	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*research.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobStatus transitions a job, refusing to overwrite a terminal
// state. Timestamps move with the transition: running sets started_at,
// completed and failed set completed_at.
func (s *JobStore) UpdateJobStatus(ctx context.Context, id string, status research.JobStatus, errorMessage string) error {
	query := `
UPDATE jobs SET
	status = $2,
	error_message = $3,
	started_at = CASE WHEN $2 = 'running' THEN now() ELSE started_at END,
	completed_at = CASE WHEN $2 IN ('completed','failed') THEN now() ELSE completed_at END
WHERE id = $1 AND status NOT IN ('completed','failed')`

	tag, err := s.pool.Exec(ctx, query, id, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job does not exist or it already reached a
		// terminal state; look to tell the two apart.
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return research.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return research.ErrTerminal
	}
	return nil
}

// SetProviderJobID records the upstream provider's id for an async job.
func (s *JobStore) SetProviderJobID(ctx context.Context, id, providerJobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET provider_job_id = $2 WHERE id = $1`, id, providerJobID)
	if err != nil {
		return fmt.Errorf("set provider job id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrNotFound
	}
	return nil
}

// DeleteJob removes a job and, via cascade, its results.
func (s *JobStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrNotFound
	}
	return nil
}

// CreateResult inserts one result row.
func (s *JobStore) CreateResult(ctx context.Context, result *research.Result) error {
	if result.ID == "" {
		return fmt.Errorf("result id is required")
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
INSERT INTO results (
	id, job_id, url, title, content, content_type, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	args := []any{
		result.ID,
		result.JobID,
		result.URL,
		result.Title,
		result.Content,
		result.ContentType,
		metadata,
		result.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns a job's results in insertion order.
func (s *JobStore) ListResults(ctx context.Context, jobID string) ([]*research.Result, error) {
	query := `
SELECT id, job_id, url, title, content, content_type, metadata, created_at
FROM results
WHERE job_id = $1
ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*research.Result
	for rows.Next() {
		var (
			r        research.Result
			metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.URL, &r.Title, &r.Content,
			&r.ContentType, &metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}
