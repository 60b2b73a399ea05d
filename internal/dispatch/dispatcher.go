// Package dispatch is the cron-driven job worker: it claims batches of due
// jobs and routes each to the handler registered for its type, applying
// the queue's retry policy on failure.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/metrics"
	"github.com/cascadehq/cascade/internal/queue"
)

// DefaultBatchLimit is how many jobs one ProcessJobs pass claims.
const DefaultBatchLimit = 50

// Handler executes one job of a registered type. A returned error is a
// failed attempt and goes through the retry policy.
type Handler func(ctx context.Context, job *db.Job) error

// DeadLetterPublisher receives jobs that exhausted their retries.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, job *db.Job, jobErr string) (string, error)
}

// Result summarizes one ProcessJobs pass.
type Result struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Dispatcher pulls due jobs from the queue and executes them.
type Dispatcher struct {
	queue      *queue.Queue
	handlers   map[db.JobType]Handler
	deadLetter DeadLetterPublisher
	logger     *zap.Logger
}

// New creates a Dispatcher. deadLetter may be nil, in which case terminally
// failed jobs are only recorded in the jobs table.
func New(q *queue.Queue, deadLetter DeadLetterPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:      q,
		handlers:   map[db.JobType]Handler{},
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Register binds a handler to a job type. Registering a type twice replaces
// the earlier handler.
func (d *Dispatcher) Register(jobType db.JobType, handler Handler) {
	d.handlers[jobType] = handler
}

// ProcessJobs claims one batch of due jobs and executes them sequentially.
// One job's failure never aborts the batch: handler errors and panics are
// contained per job and converted into the fail transition.
func (d *Dispatcher) ProcessJobs(ctx context.Context, batchLimit int) (*Result, error) {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}

	jobs, err := d.queue.DequeueBatch(ctx, batchLimit)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, job := range jobs {
		result.Processed++

		jobErr := d.execute(ctx, job)
		if jobErr == nil {
			if err := d.queue.Complete(ctx, job); err != nil {
				d.logger.Error("failed to mark job completed",
					zap.String("job_id", job.ID.String()),
					zap.Error(err),
				)
			}
			result.Succeeded++
			continue
		}

		result.Failed++
		terminal, err := d.queue.Fail(ctx, job, jobErr)
		if err != nil {
			d.logger.Error("failed to record job failure",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if terminal {
			d.publishDeadLetter(ctx, job, jobErr)
		}
	}
	return result, nil
}

// execute runs the handler for one job, converting a panic into an error so
// a bad handler cannot take the batch down.
func (d *Dispatcher) execute(ctx context.Context, job *db.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	handler, ok := d.handlers[job.Type]
	if !ok {
		// No handler is permanent; retrying the same type cannot help.
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}

	d.logger.Debug("executing job",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount),
	)
	return handler(ctx, job)
}

func (d *Dispatcher) publishDeadLetter(ctx context.Context, job *db.Job, jobErr error) {
	if d.deadLetter == nil {
		return
	}
	msgID, err := d.deadLetter.Publish(ctx, job, jobErr.Error())
	if err != nil {
		d.logger.Error("failed to publish dead letter",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}
	metrics.RecordDeadLetterPublished(string(job.Type))
	d.logger.Info("job published to dead letter queue",
		zap.String("job_id", job.ID.String()),
		zap.String("message_id", msgID),
	)
}
