package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/metrics"
	"github.com/cascadehq/cascade/internal/provider"
	"github.com/cascadehq/cascade/internal/queue"
)

// maxStepsPerRun bounds how many steps one run may execute. Chain depth
// protects against automations triggering each other; this protects
// against go_to cycles inside a single definition.
const maxStepsPerRun = 250

// RunStore is the run persistence surface the engine needs.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.AutomationRun, error)
	Advance(ctx context.Context, id uuid.UUID, currentStep int, status string) error
	Complete(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

// AutomationReader loads automation definitions.
type AutomationReader interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Automation, error)
}

// ContactStore is the engine's window into the CRM.
type ContactStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Contact, error)
	AddTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error)
	RemoveTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error)
	HasTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error)
	UpdateField(ctx context.Context, contactID uuid.UUID, field, value string) error
}

// EventAppender records side-effect events a step emits (tag mutations),
// which is how one automation can trigger another.
type EventAppender interface {
	Append(ctx context.Context, event *db.Event) error
}

// Enqueuer schedules the run's next step job.
type Enqueuer interface {
	Enqueue(ctx context.Context, p db.EnqueueParams) (*uuid.UUID, error)
}

// WebhookCaller posts webhook steps.
type WebhookCaller interface {
	Call(ctx context.Context, method, url string, body any) error
}

// Config holds sender identities for automation sends.
type Config struct {
	FromEmail string
	SMSFrom   string
}

// Engine is the automation-run state machine. Advance interprets exactly
// one step of one run and schedules the follow-up job; all waiting happens
// in the queue, never in-process.
type Engine struct {
	runs        RunStore
	automations AutomationReader
	contacts    ContactStore
	events      EventAppender
	jobs        Enqueuer
	email       provider.EmailSender
	sms         provider.SMSSender
	webhooks    WebhookCaller
	config      Config
	logger      *zap.Logger
}

// NewEngine creates the run state machine.
func NewEngine(
	runs RunStore,
	automations AutomationReader,
	contacts ContactStore,
	events EventAppender,
	jobs Enqueuer,
	email provider.EmailSender,
	sms provider.SMSSender,
	webhooks WebhookCaller,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		runs:        runs,
		automations: automations,
		contacts:    contacts,
		events:      events,
		jobs:        jobs,
		email:       email,
		sms:         sms,
		webhooks:    webhooks,
		config:      cfg,
		logger:      logger,
	}
}

// Advance executes step stepIndex of the run and transitions it: enqueue
// the next step (immediately, or deferred for wait steps), complete the run
// past the last step, or no-op for terminal runs so duplicate and late job
// deliveries are harmless. A returned error means the attempt should retry
// under the job backoff policy.
func (e *Engine) Advance(ctx context.Context, runID uuid.UUID, stepIndex, chainDepth int) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	if run.Terminal() {
		e.logger.Debug("skipping step for terminal run",
			zap.String("run_id", runID.String()),
			zap.String("status", run.Status),
		)
		return nil
	}

	auto, err := e.automations.Get(ctx, run.AutomationID)
	if errors.Is(err, db.ErrAutomationNotFound) {
		// Definition gone without the delete path cancelling this run.
		e.logger.Warn("cancelling run for missing automation",
			zap.String("run_id", runID.String()),
			zap.String("automation_id", run.AutomationID.String()),
		)
		return e.cancelRun(ctx, run)
	}
	if err != nil {
		return err
	}

	steps, err := DecodeSteps(auto.Steps)
	if err == nil {
		err = ValidateSteps(steps)
	}
	if err != nil {
		// A stored definition that fails to decode or validate is poison:
		// no retry will fix it, so cancel instead of burning the job's
		// attempts and stranding the run.
		e.logger.Error("cancelling run with invalid step definition",
			zap.String("run_id", runID.String()),
			zap.String("automation_id", run.AutomationID.String()),
			zap.Error(err),
		)
		return e.cancelRun(ctx, run)
	}

	if stepIndex >= len(steps) {
		return e.completeRun(ctx, run)
	}

	if run.StepsTaken >= maxStepsPerRun {
		e.logger.Warn("run exceeded step limit, cancelling",
			zap.String("run_id", runID.String()),
			zap.Int("steps_taken", run.StepsTaken),
		)
		return e.cancelRun(ctx, run)
	}

	var contact *db.Contact
	if run.ContactID != nil {
		// A missing contact is treated as transient (replication lag); the
		// job retries and fails terminally if it never appears.
		contact, err = e.contacts.Get(ctx, *run.ContactID)
		if err != nil {
			return fmt.Errorf("load contact for run %s: %w", runID, err)
		}
	}

	step := steps[stepIndex]
	metrics.RecordStepExecuted(string(step.Type))

	nextIndex := stepIndex + 1

	switch step.Type {
	case StepSendEmail:
		if err := e.execSendEmail(ctx, step, contact, run); err != nil {
			return err
		}

	case StepSendSMS:
		if err := e.execSendSMS(ctx, step, contact, run); err != nil {
			return err
		}

	case StepAddTag:
		if err := e.execTagMutation(ctx, step, contact, run, chainDepth, true); err != nil {
			return err
		}

	case StepRemoveTag:
		if err := e.execTagMutation(ctx, step, contact, run, chainDepth, false); err != nil {
			return err
		}

	case StepWait:
		return e.execWait(ctx, step, run, stepIndex, chainDepth)

	case StepUpdateField:
		if contact != nil {
			value := MergeTags(step.Value, contact, run.TriggerData)
			if err := e.contacts.UpdateField(ctx, contact.ID, step.Field, value); err != nil {
				return err
			}
		}

	case StepWebhook:
		body := map[string]any{
			"run_id":        run.ID,
			"automation_id": run.AutomationID,
			"contact":       contact,
			"trigger_data":  run.TriggerData,
		}
		if err := e.webhooks.Call(ctx, step.Method, step.URL, body); err != nil {
			return err
		}

	case StepIfElse:
		nextIndex = e.evalBranch(ctx, step, contact, run, stepIndex)

	case StepGoTo:
		nextIndex = *step.TargetStep

	default:
		// Unreachable: validation above rejects unknown types before the
		// switch ever sees one.
		e.logger.Error("unknown step type in stored automation",
			zap.String("run_id", runID.String()),
			zap.String("step_type", string(step.Type)),
		)
	}

	if nextIndex >= len(steps) {
		// Run the tail bookkeeping through Advance first so steps_taken
		// counts this step, then terminate.
		if err := e.runs.Advance(ctx, run.ID, nextIndex, db.RunStatusRunning); err != nil {
			return err
		}
		return e.completeRun(ctx, run)
	}

	if err := e.runs.Advance(ctx, run.ID, nextIndex, db.RunStatusRunning); err != nil {
		return err
	}
	return e.enqueueStep(ctx, run, nextIndex, chainDepth, time.Now())
}

func (e *Engine) execSendEmail(ctx context.Context, step Step, contact *db.Contact, run *db.AutomationRun) error {
	if contact == nil || contact.Email == nil || *contact.Email == "" {
		// No address on file is a business short-circuit, not a failure.
		e.logger.Debug("skipping send_email, contact has no email",
			zap.String("run_id", run.ID.String()),
		)
		return nil
	}

	subject := MergeTags(step.Subject, contact, run.TriggerData)
	body := MergeTags(step.Body, contact, run.TriggerData)

	_, err := e.email.SendEmail(ctx, *contact.Email, e.config.FromEmail, subject, body)
	return err
}

func (e *Engine) execSendSMS(ctx context.Context, step Step, contact *db.Contact, run *db.AutomationRun) error {
	if contact == nil || contact.Phone == nil || *contact.Phone == "" {
		e.logger.Debug("skipping send_sms, contact has no phone",
			zap.String("run_id", run.ID.String()),
		)
		return nil
	}

	message := MergeTags(step.Message, contact, run.TriggerData)

	result, err := e.sms.SendSMS(ctx, *contact.Phone, message, e.config.SMSFrom)
	if err != nil {
		return err
	}
	if result.ErrorCode != "" {
		return fmt.Errorf("sms rejected by provider: code %s", result.ErrorCode)
	}
	return nil
}

// execTagMutation applies the tag change and, when it actually changed
// something, records a tag event one chain hop deeper. That event is what
// lets automations trigger each other, and the depth stamp is what stops
// them doing it forever.
func (e *Engine) execTagMutation(ctx context.Context, step Step, contact *db.Contact, run *db.AutomationRun, chainDepth int, add bool) error {
	if contact == nil {
		return nil
	}
	tagID, err := uuid.Parse(step.TagID)
	if err != nil {
		return fmt.Errorf("invalid tag_id in step: %w", err)
	}

	var changed bool
	eventType := db.EventTagAdded
	if add {
		changed, err = e.contacts.AddTag(ctx, contact.ID, tagID)
	} else {
		eventType = db.EventTagRemoved
		changed, err = e.contacts.RemoveTag(ctx, contact.ID, tagID)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	payload, _ := json.Marshal(map[string]any{"tag_id": tagID})
	contactID := contact.ID
	return e.events.Append(ctx, &db.Event{
		TenantID:  run.TenantID,
		Type:      eventType,
		ContactID: &contactID,
		Payload:   db.WithChainDepth(payload, chainDepth+1),
	})
}

// execWait defers the next step instead of sleeping: the follow-up job is
// enqueued with a future execute_at and the run parks in waiting without
// moving current_step. The advance to the next index happens when that job
// fires.
func (e *Engine) execWait(ctx context.Context, step Step, run *db.AutomationRun, stepIndex, chainDepth int) error {
	delay := time.Duration(step.Minutes) * time.Minute
	if err := e.enqueueStep(ctx, run, stepIndex+1, chainDepth, time.Now().Add(delay)); err != nil {
		return err
	}
	return e.runs.Advance(ctx, run.ID, stepIndex, db.RunStatusWaiting)
}

// evalBranch resolves an if_else step to the next index. Evaluation errors
// fall through to the else branch rather than failing the run.
func (e *Engine) evalBranch(ctx context.Context, step Step, contact *db.Contact, run *db.AutomationRun, stepIndex int) int {
	matched := e.evalCondition(ctx, step.Condition, contact, run)

	if matched && step.ThenStep != nil {
		return *step.ThenStep
	}
	if !matched && step.ElseStep != nil {
		return *step.ElseStep
	}
	return stepIndex + 1
}

func (e *Engine) evalCondition(ctx context.Context, cond *Condition, contact *db.Contact, run *db.AutomationRun) bool {
	if cond == nil {
		return false
	}

	if cond.Op == "has_tag" {
		if contact == nil {
			return false
		}
		tagID, err := uuid.Parse(cond.Value)
		if err != nil {
			return false
		}
		has, err := e.contacts.HasTag(ctx, contact.ID, tagID)
		if err != nil {
			e.logger.Warn("condition tag lookup failed", zap.Error(err))
			return false
		}
		return has
	}

	var value string
	var present bool
	switch cond.Source {
	case "contact":
		fields := contactFields(contact)
		value, present = fields[cond.Field]
	case "trigger":
		var trigger map[string]any
		if len(run.TriggerData) > 0 {
			_ = json.Unmarshal(run.TriggerData, &trigger)
		}
		var raw any
		raw, present = trigger[cond.Field]
		value = stringify(raw)
	}

	switch cond.Op {
	case "equals":
		return present && value == cond.Value
	case "not_equals":
		return !present || value != cond.Value
	case "contains":
		return present && cond.Value != "" && strings.Contains(value, cond.Value)
	case "exists":
		return present && value != ""
	case "not_exists":
		return !present || value == ""
	default:
		return false
	}
}

func (e *Engine) enqueueStep(ctx context.Context, run *db.AutomationRun, stepIndex, chainDepth int, executeAt time.Time) error {
	_, err := e.jobs.Enqueue(ctx, db.EnqueueParams{
		TenantID: run.TenantID,
		Type:     db.JobAutomationStep,
		Payload: queue.StepPayload{
			RunID:      run.ID,
			StepIndex:  stepIndex,
			ChainDepth: chainDepth,
		},
		ExecuteAt:      executeAt,
		IdempotencyKey: queue.StepKey(run.ID, stepIndex),
	})
	return err
}

func (e *Engine) completeRun(ctx context.Context, run *db.AutomationRun) error {
	if err := e.runs.Complete(ctx, run.ID); err != nil {
		return err
	}
	metrics.RecordRunFinished(db.RunStatusCompleted)
	e.logger.Info("automation run completed",
		zap.String("run_id", run.ID.String()),
		zap.String("automation_id", run.AutomationID.String()),
	)
	return nil
}

func (e *Engine) cancelRun(ctx context.Context, run *db.AutomationRun) error {
	if err := e.runs.Cancel(ctx, run.ID); err != nil {
		return err
	}
	metrics.RecordRunFinished(db.RunStatusCancelled)
	return nil
}
