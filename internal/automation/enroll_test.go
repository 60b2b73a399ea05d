package automation

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

func newEnrollHarness() (*Enroller, *fakeRunStore, *fakeAutomations, *fakeEnqueuer) {
	runs := newFakeRunStore()
	autos := &fakeAutomations{autos: map[uuid.UUID]*db.Automation{}}
	jobs := &fakeEnqueuer{}
	return NewEnroller(autos, runs, jobs, zap.NewNop()), runs, autos, jobs
}

func activeAutomation(autos *fakeAutomations) *db.Automation {
	auto := &db.Automation{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Status:      db.AutomationStatusActive,
		TriggerType: "contact_tagged",
		Steps:       json.RawMessage(`[{"type": "send_sms", "message": "hi"}]`),
	}
	autos.autos[auto.ID] = auto
	return auto
}

func TestEnroll_CreatesRunAndFirstStepJob(t *testing.T) {
	enroller, runs, autos, jobs := newEnrollHarness()
	auto := activeAutomation(autos)
	contactID := uuid.New()

	run, err := enroller.Enroll(context.Background(), auto, &contactID, json.RawMessage(`{"k":"v"}`), 2)
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("run should have an id")
	}
	if runs.runs[run.ID].Status != db.RunStatusRunning {
		t.Fatalf("expected running, got %s", runs.runs[run.ID].Status)
	}

	if len(jobs.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.jobs))
	}
	job := jobs.jobs[0]
	if job.Type != db.JobAutomationStep {
		t.Fatalf("expected automation_step job, got %s", job.Type)
	}
	if job.IdempotencyKey != queue.StepKey(run.ID, 0) {
		t.Fatalf("unexpected idempotency key %q", job.IdempotencyKey)
	}
	payload, ok := job.Payload.(queue.StepPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", job.Payload)
	}
	if payload.ChainDepth != 2 {
		t.Fatalf("chain depth should propagate unchanged, got %d", payload.ChainDepth)
	}
}

func TestEnroll_InactiveAutomation(t *testing.T) {
	enroller, _, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.Status = db.AutomationStatusPaused
	contactID := uuid.New()

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if !errors.Is(err, ErrAutomationNotActive) {
		t.Fatalf("expected ErrAutomationNotActive, got %v", err)
	}
}

func TestEnroll_EmptyStepList(t *testing.T) {
	enroller, _, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.Steps = json.RawMessage(`[]`)
	contactID := uuid.New()

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if !errors.Is(err, ErrNoSteps) {
		t.Fatalf("expected ErrNoSteps, got %v", err)
	}
}

// duplicateOnCreateStore simulates losing the insert race: eligibility
// passes but the store's active-run unique index rejects the row.
type duplicateOnCreateStore struct {
	*fakeRunStore
}

func (s *duplicateOnCreateStore) Create(context.Context, *db.AutomationRun) error {
	return db.ErrDuplicateActiveRun
}

func TestEnroll_RacingCreateMapsToAlreadyEnrolled(t *testing.T) {
	runs := newFakeRunStore()
	autos := &fakeAutomations{autos: map[uuid.UUID]*db.Automation{}}
	jobs := &fakeEnqueuer{}
	enroller := NewEnroller(autos, &duplicateOnCreateStore{runs}, jobs, zap.NewNop())
	auto := activeAutomation(autos)
	contactID := uuid.New()

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("expected ErrAlreadyEnrolled, got %v", err)
	}
	if len(jobs.jobs) != 0 {
		t.Fatal("no job should be enqueued for a lost race")
	}
}

func TestEnroll_InvalidStepsRejected(t *testing.T) {
	enroller, runs, autos, jobs := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.Steps = json.RawMessage(`[{"type": "go_to"}]`)
	contactID := uuid.New()

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if err == nil {
		t.Fatal("expected validation error for go_to without target_step")
	}
	if len(runs.runs) != 0 {
		t.Fatal("no run should be created for an invalid definition")
	}
	if len(jobs.jobs) != 0 {
		t.Fatal("no job should be enqueued for an invalid definition")
	}
}

func TestEnroll_ActiveRunBlocks(t *testing.T) {
	enroller, runs, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	contactID := uuid.New()
	runs.runs[uuid.New()] = &db.AutomationRun{
		ID:           uuid.New(),
		AutomationID: auto.ID,
		ContactID:    &contactID,
		Status:       db.RunStatusWaiting,
	}

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("expected ErrAlreadyEnrolled, got %v", err)
	}
}

func TestEnroll_NoReEntryBlocksAnyPriorRun(t *testing.T) {
	enroller, runs, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.AllowReEntry = false
	contactID := uuid.New()
	done := time.Now().Add(-48 * time.Hour)
	runs.runs[uuid.New()] = &db.AutomationRun{
		ID:           uuid.New(),
		AutomationID: auto.ID,
		ContactID:    &contactID,
		Status:       db.RunStatusCompleted,
		CompletedAt:  &done,
	}

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if !errors.Is(err, ErrReEntryBlocked) {
		t.Fatalf("expected ErrReEntryBlocked, got %v", err)
	}
}

func TestEnroll_ReEntryDelayNotElapsed(t *testing.T) {
	enroller, runs, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.AllowReEntry = true
	auto.ReEntryDelay = "24h"
	contactID := uuid.New()
	done := time.Now().Add(-1 * time.Hour)
	runs.runs[uuid.New()] = &db.AutomationRun{
		ID:           uuid.New(),
		AutomationID: auto.ID,
		ContactID:    &contactID,
		Status:       db.RunStatusCompleted,
		CompletedAt:  &done,
	}

	_, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0)
	if !errors.Is(err, ErrReEntryBlocked) {
		t.Fatalf("expected ErrReEntryBlocked, got %v", err)
	}
}

func TestEnroll_ReEntryDelayElapsed(t *testing.T) {
	enroller, runs, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.AllowReEntry = true
	auto.ReEntryDelay = "24h"
	contactID := uuid.New()
	done := time.Now().Add(-48 * time.Hour)
	runs.runs[uuid.New()] = &db.AutomationRun{
		ID:           uuid.New(),
		AutomationID: auto.ID,
		ContactID:    &contactID,
		Status:       db.RunStatusCompleted,
		CompletedAt:  &done,
	}

	if _, err := enroller.Enroll(context.Background(), auto, &contactID, nil, 0); err != nil {
		t.Fatalf("expected enrollment, got %v", err)
	}
}

func TestEnroll_ContactlessRunSkipsReEntryChecks(t *testing.T) {
	enroller, _, autos, _ := newEnrollHarness()
	auto := activeAutomation(autos)
	auto.AllowReEntry = false

	if _, err := enroller.Enroll(context.Background(), auto, nil, nil, 0); err != nil {
		t.Fatalf("expected enrollment without contact, got %v", err)
	}
}
