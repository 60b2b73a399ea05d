package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// JobStore handles database operations for the job queue table.
type JobStore struct {
	db     *DB
	logger *zap.Logger
}

// NewJobStore creates a new job store.
func NewJobStore(db *DB, logger *zap.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

// EnqueueParams collects inputs required to insert a job.
type EnqueueParams struct {
	TenantID       uuid.UUID
	Type           JobType
	Payload        any
	ExecuteAt      time.Time
	Priority       int
	MaxRetries     int
	IdempotencyKey string
}

const jobColumns = `
	id, tenant_id, job_type, payload, status, priority, execute_at,
	retry_count, max_retries, idempotency_key, error,
	created_at, started_at, completed_at
`

// Enqueue inserts a pending job. When an idempotency key is supplied and a
// pending or processing job with that key already exists, it returns
// (nil, nil): the duplicate enqueue is a successful no-op, not an error.
// Finished jobs release their key, so the same logical step can be enqueued
// again after an earlier execution completed.
func (s *JobStore) Enqueue(ctx context.Context, p EnqueueParams) (*uuid.UUID, error) {
	if p.Priority == 0 {
		p.Priority = 5
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.ExecuteAt.IsZero() {
		p.ExecuteAt = time.Now()
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO jobs (
			id, tenant_id, job_type, payload, status, priority,
			execute_at, retry_count, max_retries, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		ON CONFLICT (idempotency_key)
			WHERE idempotency_key IS NOT NULL AND status IN ('pending', 'processing')
			DO NOTHING
		RETURNING id
	`

	id := uuid.New()
	var key *string
	if p.IdempotencyKey != "" {
		key = &p.IdempotencyKey
	}

	var inserted uuid.UUID
	err = s.db.Pool().QueryRow(ctx, query,
		id, p.TenantID, p.Type, payloadJSON, JobStatusPending,
		p.Priority, p.ExecuteAt, p.MaxRetries, key,
	).Scan(&inserted)

	if errors.Is(err, pgx.ErrNoRows) {
		// Idempotency key collision: the logical job already exists.
		s.logger.Debug("enqueue deduplicated",
			zap.String("job_type", string(p.Type)),
			zap.String("idempotency_key", p.IdempotencyKey),
		)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to enqueue job",
			zap.Error(err),
			zap.String("job_type", string(p.Type)),
			zap.String("tenant_id", p.TenantID.String()),
		)
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return &inserted, nil
}

// ClaimDue atomically selects up to limit due pending jobs ordered by
// (priority, execute_at) and marks them processing. SKIP LOCKED keeps
// overlapping dispatcher invocations from double-claiming rows.
func (s *JobStore) ClaimDue(ctx context.Context, limit int) ([]*Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, started_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $2 AND execute_at <= NOW()
			ORDER BY priority ASC, execute_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := s.db.Pool().Query(ctx, query, JobStatusProcessing, JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return jobs, nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	rows, err := s.db.Pool().Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return scanJob(rows)
}

// Complete marks a job completed.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW(), error = NULL
		WHERE id = $2
	`
	result, err := s.db.Pool().Exec(ctx, query, JobStatusCompleted, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// Reschedule transitions a failed attempt back to pending with a new
// retry count and a deferred execute_at.
func (s *JobStore) Reschedule(ctx context.Context, id uuid.UUID, retryCount int, executeAt time.Time, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1, retry_count = $2, execute_at = $3, error = $4
		WHERE id = $5
	`
	_, err := s.db.Pool().Exec(ctx, query, JobStatusPending, retryCount, executeAt, errMsg, id)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

// MarkFailed transitions a job to terminal failed.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1, retry_count = $2, error = $3, completed_at = NOW()
		WHERE id = $4
	`
	_, err := s.db.Pool().Exec(ctx, query, JobStatusFailed, retryCount, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// CountDue returns the number of pending jobs ready to dispatch.
func (s *JobStore) CountDue(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = $1 AND execute_at <= NOW()
	`, JobStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due jobs: %w", err)
	}
	return n, nil
}

func scanJob(rows pgx.Rows) (*Job, error) {
	var job Job
	err := rows.Scan(
		&job.ID,
		&job.TenantID,
		&job.Type,
		&job.Payload,
		&job.Status,
		&job.Priority,
		&job.ExecuteAt,
		&job.RetryCount,
		&job.MaxRetries,
		&job.IdempotencyKey,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}
