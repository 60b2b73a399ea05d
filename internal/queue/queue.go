// Package queue provides the durable job queue API over the jobs table:
// idempotent enqueue, atomic batch dequeue, and the retry/backoff policy.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/metrics"
)

// JobStore is the persistence surface the queue needs.
type JobStore interface {
	Enqueue(ctx context.Context, p db.EnqueueParams) (*uuid.UUID, error)
	ClaimDue(ctx context.Context, limit int) ([]*db.Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, retryCount int, executeAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error
}

// Queue wraps the job store with the backoff policy and queue metrics.
type Queue struct {
	store  JobStore
	logger *zap.Logger
}

// New creates a new queue over the given store.
func New(store JobStore, logger *zap.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger,
	}
}

// Backoff returns the retry delay for the n-th retry (n = new retry count):
// 5^(n-1) minutes, so 1m, 5m, 25m, ...
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	minutes := 1
	for i := 1; i < retryCount; i++ {
		minutes *= 5
	}
	return time.Duration(minutes) * time.Minute
}

// StepKey builds the deterministic idempotency key for an automation step
// job, so concurrent duplicate enqueues of the same (run, step) collapse to
// one row. A finished step job releases its key, which is what lets go_to
// jumps revisit an index.
func StepKey(runID uuid.UUID, stepIndex int) string {
	return fmt.Sprintf("auto_%s_step_%d", runID, stepIndex)
}

// CampaignSendKey builds the idempotency key for a campaign send to one
// contact.
func CampaignSendKey(campaignID, contactID uuid.UUID) string {
	return fmt.Sprintf("campaign_%s_send_%s", campaignID, contactID)
}

// Enqueue inserts a job, applying the store's idempotency rule. A nil id
// with nil error means a job with that key is already in flight and the
// enqueue deduplicated.
func (q *Queue) Enqueue(ctx context.Context, p db.EnqueueParams) (*uuid.UUID, error) {
	id, err := q.store.Enqueue(ctx, p)
	if err != nil {
		return nil, err
	}
	if id == nil {
		metrics.RecordEnqueueDeduplicated(string(p.Type))
		return nil, nil
	}

	metrics.RecordJobEnqueued(string(p.Type))
	q.logger.Debug("job enqueued",
		zap.String("job_id", id.String()),
		zap.String("job_type", string(p.Type)),
		zap.Time("execute_at", p.ExecuteAt),
	)
	return id, nil
}

// DequeueBatch claims up to limit due jobs, marked processing atomically so
// overlapping dispatcher invocations never share a job.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]*db.Job, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return q.store.ClaimDue(ctx, limit)
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, job *db.Job) error {
	if err := q.store.Complete(ctx, job.ID); err != nil {
		return err
	}
	metrics.RecordJobProcessed(string(job.Type), db.JobStatusCompleted)
	return nil
}

// Fail applies the retry policy to a failed attempt. Below max retries the
// job is rescheduled with exponential backoff; at max retries it becomes
// terminally failed. The bool result reports whether the failure was
// terminal.
func (q *Queue) Fail(ctx context.Context, job *db.Job, jobErr error) (bool, error) {
	newCount := job.RetryCount + 1
	errMsg := jobErr.Error()

	if newCount >= job.MaxRetries {
		if err := q.store.MarkFailed(ctx, job.ID, newCount, errMsg); err != nil {
			return false, err
		}
		metrics.RecordJobProcessed(string(job.Type), db.JobStatusFailed)
		q.logger.Error("job failed permanently",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
			zap.Int("retry_count", newCount),
			zap.String("error", errMsg),
		)
		return true, nil
	}

	delay := Backoff(newCount)
	if err := q.store.Reschedule(ctx, job.ID, newCount, time.Now().Add(delay), errMsg); err != nil {
		return false, err
	}
	metrics.RecordJobRetried(string(job.Type))
	q.logger.Warn("job rescheduled after failure",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", newCount),
		zap.Duration("backoff", delay),
		zap.String("error", errMsg),
	)
	return false, nil
}
