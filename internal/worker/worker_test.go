package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/dispatch"
	"github.com/cascadehq/cascade/internal/router"
)

type fakeEventProcessor struct {
	calls atomic.Int64
}

func (f *fakeEventProcessor) ProcessEvents(_ context.Context, batchLimit int) (*router.Result, error) {
	f.calls.Add(1)
	return &router.Result{Processed: 1}, nil
}

type fakeJobProcessor struct {
	calls atomic.Int64
}

func (f *fakeJobProcessor) ProcessJobs(_ context.Context, batchLimit int) (*dispatch.Result, error) {
	f.calls.Add(1)
	return &dispatch.Result{Processed: 1, Succeeded: 1}, nil
}

type fakeCounters struct{}

func (fakeCounters) CountDue(context.Context) (int64, error)         { return 3, nil }
func (fakeCounters) CountUnprocessed(context.Context) (int64, error) { return 2, nil }

func TestWorker_RunsBothLoops(t *testing.T) {
	evProc := &fakeEventProcessor{}
	jobProc := &fakeJobProcessor{}
	w := New(evProc, jobProc, fakeCounters{}, fakeCounters{}, Config{
		EventInterval: 10 * time.Millisecond,
		JobInterval:   10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	if evProc.calls.Load() == 0 {
		t.Fatal("expected at least one event pass")
	}
	if jobProc.calls.Load() == 0 {
		t.Fatal("expected at least one job pass")
	}
}

func TestWorker_DefaultConfig(t *testing.T) {
	w := New(&fakeEventProcessor{}, &fakeJobProcessor{}, nil, nil, Config{}, zap.NewNop())

	if w.config.EventInterval != 60*time.Second {
		t.Fatalf("expected 60s event interval, got %v", w.config.EventInterval)
	}
	if w.config.JobInterval != 60*time.Second {
		t.Fatalf("expected 60s job interval, got %v", w.config.JobInterval)
	}
	if w.config.EventBatchLimit != router.DefaultBatchLimit {
		t.Fatalf("expected default event batch limit, got %d", w.config.EventBatchLimit)
	}
	if w.config.JobBatchLimit != dispatch.DefaultBatchLimit {
		t.Fatalf("expected default job batch limit, got %d", w.config.JobBatchLimit)
	}
}
