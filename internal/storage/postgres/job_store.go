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

	"github.com/shelfscout/scraper/internal/scrape"
)

// dbPool is the subset of pgxpool.Pool the stores use, satisfied by pgxmock.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// JobStore persists scrape jobs in Postgres. Lifecycle transitions are
// enforced with guarded UPDATEs so concurrent writers cannot skip states.
type JobStore struct {
	pool  dbPool
	clock scrape.Clock
}

const jobColumns = `id, target_url, target_type, status, options, result,
	COALESCE(error_message, ''), error_log, retry_count, max_retries,
	items_processed, items_total, started_at, finished_at, created_at, updated_at`

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig, clock scrape.Clock) (*JobStore, error) {
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
	return &JobStore{pool: pool, clock: clock}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool, clock scrape.Clock) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row in pending status.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) (scrape.Job, error) {
	if job.ID == "" {
		return scrape.Job{}, fmt.Errorf("job id is required")
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = scrape.DefaultMaxRetries
	}
	optionsJSON, err := marshalJSON(map[string]any(job.Options))
	if err != nil {
		return scrape.Job{}, fmt.Errorf("marshal options: %w", err)
	}
	now := s.clock.Now()

	row := s.pool.QueryRow(ctx, `
INSERT INTO scrape_jobs (
	id, target_url, target_type, status, options,
	retry_count, max_retries, items_processed, items_total,
	created_at, updated_at
) VALUES ($1,$2,$3,'pending',$4,0,$5,0,0,$6,$6)
RETURNING `+jobColumns,
		job.ID, job.TargetURL, string(job.TargetType), optionsJSON, job.MaxRetries, now,
	)
	return scanJob(row)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, scrape.ErrNotFound
	}
	return job, err
}

// ListRecent returns up to limit jobs ordered newest-first.
func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]scrape.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListByStatus returns all jobs with the given status, newest-first.
func (s *JobStore) ListByStatus(ctx context.Context, status scrape.JobStatus) ([]scrape.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE status = $1 ORDER BY created_at DESC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return scanJobs(rows)
}

// MarkRunning moves pending -> running. StartedAt is recorded only on the
// job's first run.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string) (scrape.Job, error) {
	now := s.clock.Now()
	row := s.pool.QueryRow(ctx, `
UPDATE scrape_jobs
SET status = 'running', started_at = COALESCE(started_at, $2), updated_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING `+jobColumns, jobID, now)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, s.transitionConflict(ctx, jobID, scrape.JobStatusRunning)
	}
	return job, err
}

// MarkCompleted moves running -> completed with a result snapshot.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, result map[string]any, processed, total int) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = 'completed', result = $2, items_processed = $3, items_total = $4,
	error_message = NULL, error_log = NULL, finished_at = $5, updated_at = $5
WHERE id = $1 AND status = 'running'`,
		jobID, resultJSON, processed, total, now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, jobID, scrape.JobStatusCompleted)
	}
	return nil
}

// MarkFailed moves running -> failed, recording the terminal error.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string, errLog map[string]any) error {
	logJSON, err := marshalJSON(errLog)
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = 'failed', error_message = $2, error_log = $3, finished_at = $4, updated_at = $4
WHERE id = $1 AND status = 'running'`,
		jobID, errMsg, logJSON, now)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, jobID, scrape.JobStatusFailed)
	}
	return nil
}

// MarkRetrying moves running -> pending for an internal retry, consuming one
// unit of the retry budget.
func (s *JobStore) MarkRetrying(ctx context.Context, jobID string, errMsg string, errLog map[string]any) error {
	logJSON, err := marshalJSON(errLog)
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = 'pending', retry_count = retry_count + 1,
	error_message = $2, error_log = $3, updated_at = $4
WHERE id = $1 AND status = 'running' AND retry_count < max_retries`,
		jobID, errMsg, logJSON, now)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, jobID, scrape.JobStatusPending)
	}
	return nil
}

// MarkCancelled moves pending or running -> cancelled; no-op on terminal jobs.
func (s *JobStore) MarkCancelled(ctx context.Context, jobID string) error {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = 'cancelled', finished_at = $2, updated_at = $2
WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, now)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		job, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		if job.Status.IsTerminal() {
			return nil
		}
		return transitionError(job.Status, scrape.JobStatusCancelled)
	}
	return nil
}

// ResetForRetry moves failed -> pending for an operator retry, clearing error
// fields. The retry budget is widened when an operator pushes past it.
func (s *JobStore) ResetForRetry(ctx context.Context, jobID string) (scrape.Job, error) {
	now := s.clock.Now()
	row := s.pool.QueryRow(ctx, `
UPDATE scrape_jobs
SET status = 'pending', retry_count = retry_count + 1,
	max_retries = GREATEST(max_retries, retry_count + 1),
	error_message = NULL, error_log = NULL, finished_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'failed'
RETURNING `+jobColumns, jobID, now)
	job, err := scanJob(row)
	if !errors.Is(err, pgx.ErrNoRows) {
		return job, err
	}
	existing, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return scrape.Job{}, getErr
	}
	return scrape.Job{}, fmt.Errorf("cannot retry job in status %q: %w", existing.Status, scrape.ErrInvalidState)
}

// transitionConflict reloads the row to report why a guarded UPDATE matched
// nothing.
func (s *JobStore) transitionConflict(ctx context.Context, jobID string, to scrape.JobStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return transitionError(job.Status, to)
}

func transitionError(from, to scrape.JobStatus) error {
	return fmt.Errorf("%s -> %s: %w", from, to, scrape.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (scrape.Job, error) {
	var (
		job        scrape.Job
		targetType string
		status     string
		options    []byte
		result     []byte
		errLog     []byte
	)
	err := row.Scan(
		&job.ID, &job.TargetURL, &targetType, &status, &options, &result,
		&job.ErrorMessage, &errLog, &job.RetryCount, &job.MaxRetries,
		&job.ItemsProcessed, &job.ItemsTotal,
		&job.StartedAt, &job.FinishedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return scrape.Job{}, err
	}
	job.TargetType = scrape.TargetType(targetType)
	job.Status = scrape.JobStatus(status)
	if err := unmarshalJSON(options, (*map[string]any)(&job.Options)); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := unmarshalJSON(result, &job.Result); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal result: %w", err)
	}
	if err := unmarshalJSON(errLog, &job.ErrorLog); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal error log: %w", err)
	}
	return job, nil
}

func scanJobs(rows pgx.Rows) ([]scrape.Job, error) {
	defer rows.Close()
	var out []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalJSON(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(data, dst)
}
