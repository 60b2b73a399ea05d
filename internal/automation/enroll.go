package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/metrics"
	"github.com/cascadehq/cascade/internal/queue"
)

var (
	// ErrAutomationNotActive means the automation exists but is not accepting
	// new runs (draft or paused).
	ErrAutomationNotActive = errors.New("automation is not active")

	// ErrNoSteps means the automation has an empty step list, so a run would
	// complete without doing anything.
	ErrNoSteps = errors.New("automation has no steps")

	// ErrAlreadyEnrolled means the contact has a run in flight for this
	// automation.
	ErrAlreadyEnrolled = errors.New("contact already has an active run")

	// ErrReEntryBlocked means re-entry rules reject the contact: either the
	// automation forbids repeat runs, or the re-entry delay has not elapsed
	// since the contact's last completed run.
	ErrReEntryBlocked = errors.New("re-entry blocked")
)

// EnrollmentStore covers the run queries and writes enrollment needs.
type EnrollmentStore interface {
	Create(ctx context.Context, run *db.AutomationRun) error
	HasActiveRun(ctx context.Context, automationID, contactID uuid.UUID) (bool, error)
	HasAnyRun(ctx context.Context, automationID, contactID uuid.UUID) (bool, error)
	LastCompletedAt(ctx context.Context, automationID, contactID uuid.UUID) (*time.Time, error)
}

// Enroller starts automation runs, enforcing the automation's re-entry
// rules. Both the manual enroll API and the event router go through it.
type Enroller struct {
	automations AutomationReader
	runs        EnrollmentStore
	jobs        Enqueuer
	logger      *zap.Logger
}

// NewEnroller creates an Enroller.
func NewEnroller(automations AutomationReader, runs EnrollmentStore, jobs Enqueuer, logger *zap.Logger) *Enroller {
	return &Enroller{
		automations: automations,
		runs:        runs,
		jobs:        jobs,
		logger:      logger,
	}
}

// CheckEligibility reports whether a contact may enter the automation.
// A nil error means eligible; the sentinel errors above name why not.
func (en *Enroller) CheckEligibility(ctx context.Context, auto *db.Automation, contactID *uuid.UUID) error {
	if auto.Status != db.AutomationStatusActive {
		return ErrAutomationNotActive
	}

	if contactID == nil {
		// Contact-less runs (e.g. date-based triggers) have no re-entry
		// history to check.
		return nil
	}

	active, err := en.runs.HasActiveRun(ctx, auto.ID, *contactID)
	if err != nil {
		return err
	}
	if active {
		return ErrAlreadyEnrolled
	}

	if !auto.AllowReEntry {
		any, err := en.runs.HasAnyRun(ctx, auto.ID, *contactID)
		if err != nil {
			return err
		}
		if any {
			return ErrReEntryBlocked
		}
		return nil
	}

	last, err := en.runs.LastCompletedAt(ctx, auto.ID, *contactID)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}

	if time.Since(*last) < ParseDelay(auto.ReEntryDelay) {
		return ErrReEntryBlocked
	}
	return nil
}

// Enroll checks eligibility, creates the run, and schedules its first step.
// triggerData is stored on the run for merge tags and conditions; chainDepth
// is stamped on the step job so trigger chains stay bounded.
func (en *Enroller) Enroll(ctx context.Context, auto *db.Automation, contactID *uuid.UUID, triggerData []byte, chainDepth int) (*db.AutomationRun, error) {
	steps, err := DecodeSteps(auto.Steps)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	if err := ValidateSteps(steps); err != nil {
		return nil, fmt.Errorf("automation %s: %w", auto.ID, err)
	}

	if err := en.CheckEligibility(ctx, auto, contactID); err != nil {
		return nil, err
	}

	run := &db.AutomationRun{
		TenantID:     auto.TenantID,
		AutomationID: auto.ID,
		ContactID:    contactID,
		TriggerData:  triggerData,
	}
	if err := en.runs.Create(ctx, run); err != nil {
		if errors.Is(err, db.ErrDuplicateActiveRun) {
			// Another writer won the race between the eligibility check and
			// the insert; treat it like the check having caught it.
			return nil, ErrAlreadyEnrolled
		}
		return nil, err
	}

	if _, err := en.jobs.Enqueue(ctx, db.EnqueueParams{
		TenantID: auto.TenantID,
		Type:     db.JobAutomationStep,
		Payload: queue.StepPayload{
			RunID:      run.ID,
			StepIndex:  0,
			ChainDepth: chainDepth,
		},
		ExecuteAt:      time.Now(),
		IdempotencyKey: queue.StepKey(run.ID, 0),
	}); err != nil {
		return nil, err
	}

	metrics.RecordRunCreated(auto.TriggerType)
	en.logger.Info("automation run started",
		zap.String("run_id", run.ID.String()),
		zap.String("automation_id", auto.ID.String()),
		zap.String("trigger_type", auto.TriggerType),
	)
	return run, nil
}
