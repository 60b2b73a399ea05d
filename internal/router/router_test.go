package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/automation"
	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/queue"
)

type fakeEventStore struct {
	events    []*db.Event
	processed map[uuid.UUID]bool
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{processed: map[uuid.UUID]bool{}}
}

// ClaimUnprocessed mirrors the store contract: returned events are marked
// processed as part of the claim, so a second claim never sees them.
func (f *fakeEventStore) ClaimUnprocessed(_ context.Context, limit int) ([]*db.Event, error) {
	var out []*db.Event
	for _, e := range f.events {
		if f.processed[e.ID] {
			continue
		}
		f.processed[e.ID] = true
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeAutomationStore struct {
	autos []*db.Automation
}

func (f *fakeAutomationStore) Get(_ context.Context, id uuid.UUID) (*db.Automation, error) {
	for _, a := range f.autos {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, db.ErrAutomationNotFound
}

func (f *fakeAutomationStore) GetActive(_ context.Context, tenantID uuid.UUID, triggerType string) ([]*db.Automation, error) {
	var out []*db.Automation
	for _, a := range f.autos {
		if a.TenantID == tenantID && a.Status == db.AutomationStatusActive && a.TriggerType == triggerType {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeRunStore struct {
	runs []*db.AutomationRun
}

// Create enforces the active-run unique index the way the real store does.
func (f *fakeRunStore) Create(_ context.Context, run *db.AutomationRun) error {
	if run.ContactID != nil {
		for _, existing := range f.runs {
			if existing.AutomationID == run.AutomationID && existing.ContactID != nil &&
				*existing.ContactID == *run.ContactID && !existing.Terminal() {
				return db.ErrDuplicateActiveRun
			}
		}
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = db.RunStatusRunning
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRunStore) HasActiveRun(_ context.Context, automationID, contactID uuid.UUID) (bool, error) {
	for _, run := range f.runs {
		if run.AutomationID == automationID && run.ContactID != nil && *run.ContactID == contactID && !run.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRunStore) HasAnyRun(_ context.Context, automationID, contactID uuid.UUID) (bool, error) {
	for _, run := range f.runs {
		if run.AutomationID == automationID && run.ContactID != nil && *run.ContactID == contactID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRunStore) LastCompletedAt(_ context.Context, automationID, contactID uuid.UUID) (*time.Time, error) {
	var last *time.Time
	for _, run := range f.runs {
		if run.AutomationID == automationID && run.ContactID != nil && *run.ContactID == contactID &&
			run.Status == db.RunStatusCompleted && run.CompletedAt != nil {
			if last == nil || run.CompletedAt.After(*last) {
				last = run.CompletedAt
			}
		}
	}
	return last, nil
}

type fakeEnqueuer struct {
	jobs []db.EnqueueParams
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, p db.EnqueueParams) (*uuid.UUID, error) {
	f.jobs = append(f.jobs, p)
	id := uuid.New()
	return &id, nil
}

type harness struct {
	router *Router
	events *fakeEventStore
	autos  *fakeAutomationStore
	runs   *fakeRunStore
	jobs   *fakeEnqueuer
}

func newHarness() *harness {
	h := &harness{
		events: newFakeEventStore(),
		autos:  &fakeAutomationStore{},
		runs:   &fakeRunStore{},
		jobs:   &fakeEnqueuer{},
	}
	enroller := automation.NewEnroller(h.autos, h.runs, h.jobs, zap.NewNop())
	h.router = New(h.events, h.autos, enroller, zap.NewNop())
	return h
}

func (h *harness) addAutomation(tenantID uuid.UUID, triggerType, triggerConfig string) *db.Automation {
	auto := &db.Automation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Status:        db.AutomationStatusActive,
		TriggerType:   triggerType,
		TriggerConfig: json.RawMessage(triggerConfig),
		Steps:         json.RawMessage(`[{"type": "send_sms", "message": "hi"}]`),
		AllowReEntry:  true,
	}
	h.autos.autos = append(h.autos.autos, auto)
	return auto
}

func (h *harness) addEvent(tenantID uuid.UUID, eventType db.EventType, contactID *uuid.UUID, payload string) *db.Event {
	event := &db.Event{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Type:      eventType,
		ContactID: contactID,
		Payload:   json.RawMessage(payload),
	}
	h.events.events = append(h.events.events, event)
	return event
}

func TestRouter_MatchCreatesRunAndStepJob(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	h.addAutomation(tenant, "tag_added", `{}`)
	h.addEvent(tenant, db.EventTagAdded, &contact, `{"tag_id": "t-1"}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Processed != 1 || result.RunsCreated != 1 {
		t.Fatalf("expected 1/1, got %d/%d", result.Processed, result.RunsCreated)
	}
	if len(h.runs.runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(h.runs.runs))
	}
	run := h.runs.runs[0]
	if run.ContactID == nil || *run.ContactID != contact {
		t.Fatal("run should carry the event's contact")
	}

	if len(h.jobs.jobs) != 1 {
		t.Fatalf("expected step-0 job, got %d", len(h.jobs.jobs))
	}
	if h.jobs.jobs[0].IdempotencyKey != queue.StepKey(run.ID, 0) {
		t.Fatalf("unexpected key %q", h.jobs.jobs[0].IdempotencyKey)
	}
}

func TestRouter_UnmappedEventTypeConsumed(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	event := h.addEvent(tenant, db.EventSMSDelivered, nil, `{}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Processed != 1 || result.RunsCreated != 0 {
		t.Fatalf("expected 1/0, got %d/%d", result.Processed, result.RunsCreated)
	}
	if !h.events.processed[event.ID] {
		t.Fatal("dead event should still be consumed")
	}
}

func TestRouter_OverlappingPassesShareNoEvents(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	h.addAutomation(tenant, "tag_added", `{}`)
	h.addEvent(tenant, db.EventTagAdded, &contact, `{"tag_id": "t-1"}`)

	// A second router over the same stores, the way two overlapping cron
	// invocations would run.
	second := New(h.events, h.autos, automation.NewEnroller(h.autos, h.runs, h.jobs, zap.NewNop()), zap.NewNop())

	first, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	overlap, err := second.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if first.Processed != 1 || first.RunsCreated != 1 {
		t.Fatalf("expected first pass 1/1, got %d/%d", first.Processed, first.RunsCreated)
	}
	if overlap.Processed != 0 || overlap.RunsCreated != 0 {
		t.Fatalf("claimed event leaked into second pass: %d/%d", overlap.Processed, overlap.RunsCreated)
	}
	if len(h.runs.runs) != 1 {
		t.Fatalf("expected exactly 1 run, got %d", len(h.runs.runs))
	}
}

func TestRouter_ChainDepthBreaksLoop(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	h.addAutomation(tenant, "tag_added", `{}`)
	event := h.addEvent(tenant, db.EventTagAdded, &contact, `{"tag_id": "t-1", "_chain_depth": 5}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RunsCreated != 0 {
		t.Fatalf("expected no runs at depth limit, got %d", result.RunsCreated)
	}
	if !h.events.processed[event.ID] {
		t.Fatal("loop-broken event should still be consumed")
	}
}

func TestRouter_ChainDepthPropagatesUnchanged(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	h.addAutomation(tenant, "tag_added", `{}`)
	h.addEvent(tenant, db.EventTagAdded, &contact, `{"tag_id": "t-1", "_chain_depth": 3}`)

	if _, err := h.router.ProcessEvents(context.Background(), 100); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(h.jobs.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(h.jobs.jobs))
	}
	payload := h.jobs.jobs[0].Payload.(queue.StepPayload)
	if payload.ChainDepth != 3 {
		t.Fatalf("router must not increment depth, got %d", payload.ChainDepth)
	}
}

func TestRouter_TriggerConfigFiltering(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	matching := h.addAutomation(tenant, "tag_added", `{"tag_id": "t-1"}`)
	h.addAutomation(tenant, "tag_added", `{"tag_id": "t-other"}`)
	h.addEvent(tenant, db.EventTagAdded, &contact, `{"tag_id": "t-1"}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RunsCreated != 1 {
		t.Fatalf("expected 1 run, got %d", result.RunsCreated)
	}
	if h.runs.runs[0].AutomationID != matching.ID {
		t.Fatal("wrong automation matched")
	}
}

func TestRouter_TenantIsolation(t *testing.T) {
	h := newHarness()
	contact := uuid.New()
	h.addAutomation(uuid.New(), "tag_added", `{}`) // other tenant
	h.addEvent(uuid.New(), db.EventTagAdded, &contact, `{"tag_id": "t-1"}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RunsCreated != 0 {
		t.Fatalf("cross-tenant match must not happen, got %d runs", result.RunsCreated)
	}
}

func TestRouter_ActiveRunBlocksReEnrollment(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	auto := h.addAutomation(tenant, "tag_added", `{}`)
	h.runs.runs = append(h.runs.runs, &db.AutomationRun{
		ID:           uuid.New(),
		AutomationID: auto.ID,
		ContactID:    &contact,
		Status:       db.RunStatusRunning,
	})
	event := h.addEvent(tenant, db.EventTagAdded, &contact, `{}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RunsCreated != 0 {
		t.Fatalf("expected skip, got %d runs", result.RunsCreated)
	}
	if !h.events.processed[event.ID] {
		t.Fatal("skipped event should still be consumed")
	}
}

func TestRouter_ZeroStepAutomationSkipped(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	contact := uuid.New()
	auto := h.addAutomation(tenant, "tag_added", `{}`)
	auto.Steps = json.RawMessage(`[]`)
	h.addEvent(tenant, db.EventTagAdded, &contact, `{}`)

	result, err := h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.RunsCreated != 0 {
		t.Fatalf("zero-step automation must not run, got %d", result.RunsCreated)
	}
}

func TestRouter_BatchLimitRespected(t *testing.T) {
	h := newHarness()
	tenant := uuid.New()
	for i := 0; i < 5; i++ {
		h.addEvent(tenant, db.EventContactCreated, nil, `{}`)
	}

	result, err := h.router.ProcessEvents(context.Background(), 3)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", result.Processed)
	}

	result, err = h.router.ProcessEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected remaining 2, got %d", result.Processed)
	}
}
