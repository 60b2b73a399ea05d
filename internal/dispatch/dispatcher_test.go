package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/queue"
)

type fakeJobStore struct {
	due         []*db.Job
	completed   []uuid.UUID
	rescheduled []uuid.UUID
	failed      []uuid.UUID
}

func (f *fakeJobStore) Enqueue(_ context.Context, p db.EnqueueParams) (*uuid.UUID, error) {
	id := uuid.New()
	return &id, nil
}

func (f *fakeJobStore) ClaimDue(_ context.Context, limit int) ([]*db.Job, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	out := f.due
	f.due = nil
	return out, nil
}

func (f *fakeJobStore) Complete(_ context.Context, id uuid.UUID) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) Reschedule(_ context.Context, id uuid.UUID, retryCount int, executeAt time.Time, errMsg string) error {
	f.rescheduled = append(f.rescheduled, id)
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDeadLetter struct {
	published []string
}

func (f *fakeDeadLetter) Publish(_ context.Context, job *db.Job, jobErr string) (string, error) {
	f.published = append(f.published, job.ID.String())
	return "msg-1", nil
}

func makeJob(jobType db.JobType, retryCount, maxRetries int) *db.Job {
	return &db.Job{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		Type:       jobType,
		Payload:    json.RawMessage(`{}`),
		Status:     db.JobStatusProcessing,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	}
}

func newTestDispatcher(store *fakeJobStore, dlq DeadLetterPublisher) *Dispatcher {
	q := queue.New(store, zap.NewNop())
	return New(q, dlq, zap.NewNop())
}

func TestDispatcher_SuccessfulJobCompleted(t *testing.T) {
	store := &fakeJobStore{}
	job := makeJob(db.JobTokenRefresh, 0, 3)
	store.due = []*db.Job{job}

	d := newTestDispatcher(store, nil)
	d.Register(db.JobTokenRefresh, func(_ context.Context, _ *db.Job) error {
		return nil
	})

	result, err := d.ProcessJobs(context.Background(), 50)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Processed != 1 || result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("expected 1/1/0, got %d/%d/%d", result.Processed, result.Succeeded, result.Failed)
	}
	if len(store.completed) != 1 {
		t.Fatalf("expected 1 completed, got %d", len(store.completed))
	}
}

func TestDispatcher_FailedJobRescheduled(t *testing.T) {
	store := &fakeJobStore{}
	job := makeJob(db.JobTokenRefresh, 0, 3)
	store.due = []*db.Job{job}

	d := newTestDispatcher(store, nil)
	d.Register(db.JobTokenRefresh, func(_ context.Context, _ *db.Job) error {
		return errors.New("provider timeout")
	})

	result, err := d.ProcessJobs(context.Background(), 50)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", result.Failed)
	}
	if len(store.rescheduled) != 1 {
		t.Fatalf("expected reschedule, got %d", len(store.rescheduled))
	}
	if len(store.failed) != 0 {
		t.Fatal("first failure must not be terminal")
	}
}

func TestDispatcher_ExhaustedJobGoesToDeadLetter(t *testing.T) {
	store := &fakeJobStore{}
	dlq := &fakeDeadLetter{}
	job := makeJob(db.JobTokenRefresh, 2, 3) // next failure is the last
	store.due = []*db.Job{job}

	d := newTestDispatcher(store, dlq)
	d.Register(db.JobTokenRefresh, func(_ context.Context, _ *db.Job) error {
		return errors.New("provider timeout")
	})

	if _, err := d.ProcessJobs(context.Background(), 50); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(store.failed) != 1 {
		t.Fatalf("expected terminal failure, got %d", len(store.failed))
	}
	if len(dlq.published) != 1 {
		t.Fatalf("expected dead letter, got %d", len(dlq.published))
	}
	if dlq.published[0] != job.ID.String() {
		t.Fatal("wrong job dead-lettered")
	}
}

func TestDispatcher_PanicContainedPerJob(t *testing.T) {
	store := &fakeJobStore{}
	bad := makeJob(db.JobTokenRefresh, 0, 3)
	good := makeJob(db.JobSegmentRecount, 0, 3)
	store.due = []*db.Job{bad, good}

	d := newTestDispatcher(store, nil)
	d.Register(db.JobTokenRefresh, func(_ context.Context, _ *db.Job) error {
		panic("boom")
	})
	d.Register(db.JobSegmentRecount, func(_ context.Context, _ *db.Job) error {
		return nil
	})

	result, err := d.ProcessJobs(context.Background(), 50)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %d/%d", result.Succeeded, result.Failed)
	}
	if len(store.completed) != 1 || store.completed[0] != good.ID {
		t.Fatal("good job should complete despite the panic")
	}
}

func TestDispatcher_UnregisteredTypeFails(t *testing.T) {
	store := &fakeJobStore{}
	job := makeJob(db.JobEngagementFetch, 0, 3)
	store.due = []*db.Job{job}

	d := newTestDispatcher(store, nil)

	result, err := d.ProcessJobs(context.Background(), 50)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", result.Failed)
	}
}

func TestDispatcher_EmptyQueue(t *testing.T) {
	d := newTestDispatcher(&fakeJobStore{}, nil)

	result, err := d.ProcessJobs(context.Background(), 50)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected nothing processed, got %d", result.Processed)
	}
}
