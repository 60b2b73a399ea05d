// Package worker runs the scheduler loops: a router pass over unprocessed
// events and a dispatcher pass over due jobs, each on its own interval.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/dispatch"
	"github.com/cascadehq/cascade/internal/metrics"
	"github.com/cascadehq/cascade/internal/router"
)

type EventProcessor interface {
	ProcessEvents(ctx context.Context, batchLimit int) (*router.Result, error)
}

type JobProcessor interface {
	ProcessJobs(ctx context.Context, batchLimit int) (*dispatch.Result, error)
}

// JobCounter feeds the queue-depth gauge.
type JobCounter interface {
	CountDue(ctx context.Context) (int64, error)
}

// EventCounter feeds the backlog gauge.
type EventCounter interface {
	CountUnprocessed(ctx context.Context) (int64, error)
}

type Worker struct {
	router     EventProcessor
	dispatcher JobProcessor
	jobs       JobCounter
	events     EventCounter
	config     Config
	logger     *zap.Logger
}

type Config struct {
	EventInterval   time.Duration
	JobInterval     time.Duration
	EventBatchLimit int
	JobBatchLimit   int
}

func New(r EventProcessor, d JobProcessor, jobs JobCounter, events EventCounter, cfg Config, logger *zap.Logger) *Worker {
	if cfg.EventInterval == 0 {
		cfg.EventInterval = 60 * time.Second
	}
	if cfg.JobInterval == 0 {
		cfg.JobInterval = 60 * time.Second
	}
	if cfg.EventBatchLimit == 0 {
		cfg.EventBatchLimit = router.DefaultBatchLimit
	}
	if cfg.JobBatchLimit == 0 {
		cfg.JobBatchLimit = dispatch.DefaultBatchLimit
	}

	return &Worker{
		router:     r,
		dispatcher: d,
		jobs:       jobs,
		events:     events,
		config:     cfg,
		logger:     logger,
	}
}

// Start runs both loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	eventTicker := time.NewTicker(w.config.EventInterval)
	defer eventTicker.Stop()
	jobTicker := time.NewTicker(w.config.JobInterval)
	defer jobTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-eventTicker.C:
			w.runEventPass(ctx)
		case <-jobTicker.C:
			w.runJobPass(ctx)
		}
	}
}

func (w *Worker) runEventPass(ctx context.Context) {
	result, err := w.router.ProcessEvents(ctx, w.config.EventBatchLimit)
	if err != nil {
		w.logger.Error("event pass failed", zap.Error(err))
		return
	}
	if result.Processed > 0 {
		w.logger.Info("event pass complete",
			zap.Int("processed", result.Processed),
			zap.Int("runs_created", result.RunsCreated),
		)
	}
	w.updateGauges(ctx)
}

func (w *Worker) runJobPass(ctx context.Context) {
	result, err := w.dispatcher.ProcessJobs(ctx, w.config.JobBatchLimit)
	if err != nil {
		w.logger.Error("job pass failed", zap.Error(err))
		return
	}
	if result.Processed > 0 {
		w.logger.Info("job pass complete",
			zap.Int("processed", result.Processed),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}
	w.updateGauges(ctx)
}

func (w *Worker) updateGauges(ctx context.Context) {
	if w.jobs != nil {
		if due, err := w.jobs.CountDue(ctx); err == nil {
			metrics.SetJobQueueDepth(due)
		}
	}
	if w.events != nil {
		if backlog, err := w.events.CountUnprocessed(ctx); err == nil {
			metrics.SetEventBacklog(backlog)
		}
	}
}
