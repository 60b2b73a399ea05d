// Package router consumes the event log: it matches unprocessed events
// against active automation triggers and spawns runs. Every event is
// consumed exactly once, whether or not it matched anything.
package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/automation"
	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/metrics"
)

// maxChainDepth is the loop breaker: an event this many automation hops
// deep is consumed without spawning further runs.
const maxChainDepth = 5

// DefaultBatchLimit is how many events one ProcessEvents pass consumes.
const DefaultBatchLimit = 100

// triggerTypes maps event types to automation trigger types. Event types
// absent here never start automations and are consumed as dead events.
// sms_delivered is absent on purpose: a delivery receipt records the
// carrier's work, not the contact's, so it is not a trigger the way opens,
// clicks, and replies are.
var triggerTypes = map[db.EventType]string{
	db.EventContactCreated:  "contact_created",
	db.EventTagAdded:        "tag_added",
	db.EventTagRemoved:      "tag_removed",
	db.EventEmailOpened:     "email_opened",
	db.EventEmailClicked:    "email_clicked",
	db.EventSMSReplied:      "sms_replied",
	db.EventFormSubmitted:   "form_submitted",
	db.EventWebhookReceived: "webhook_received",
}

// EventStore is the router's view of the event log. Claiming marks events
// processed atomically, so overlapping passes never share an event.
type EventStore interface {
	ClaimUnprocessed(ctx context.Context, limit int) ([]*db.Event, error)
}

// AutomationFinder looks up candidate automations for a trigger.
type AutomationFinder interface {
	GetActive(ctx context.Context, tenantID uuid.UUID, triggerType string) ([]*db.Automation, error)
}

// Result summarizes one ProcessEvents pass.
type Result struct {
	Processed   int `json:"processed"`
	RunsCreated int `json:"runs_created"`
}

// Router matches events to automations and enrolls contacts.
type Router struct {
	events      EventStore
	automations AutomationFinder
	enroller    *automation.Enroller
	logger      *zap.Logger
}

// New creates a Router.
func New(events EventStore, automations AutomationFinder, enroller *automation.Enroller, logger *zap.Logger) *Router {
	return &Router{
		events:      events,
		automations: automations,
		enroller:    enroller,
		logger:      logger,
	}
}

// ProcessEvents consumes up to batchLimit unprocessed events, oldest first.
// Claiming marks them processed up front, so consumption is terminal no
// matter what happens while matching: an error mid-event is logged and the
// event stays consumed, because a logically unmatchable event can never
// succeed on retry.
func (r *Router) ProcessEvents(ctx context.Context, batchLimit int) (*Result, error) {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}

	events, err := r.events.ClaimUnprocessed(ctx, batchLimit)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, event := range events {
		runs, err := r.processEvent(ctx, event)
		if err != nil {
			r.logger.Error("event processing failed",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
		}
		result.RunsCreated += runs
		result.Processed++
		metrics.RecordEventProcessed(string(event.Type))
	}
	return result, nil
}

// processEvent matches one event and returns how many runs it started.
func (r *Router) processEvent(ctx context.Context, event *db.Event) (int, error) {
	triggerType, ok := triggerTypes[event.Type]
	if !ok {
		return 0, nil
	}

	depth := db.ChainDepth(event.Payload)
	if depth >= maxChainDepth {
		metrics.RecordLoopBroken()
		r.logger.Warn("automation chain depth limit reached, breaking loop",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
			zap.Int("chain_depth", depth),
		)
		return 0, nil
	}

	candidates, err := r.automations.GetActive(ctx, event.TenantID, triggerType)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, auto := range candidates {
		if !configMatches(auto.TriggerConfig, event.Payload) {
			continue
		}

		_, err := r.enroller.Enroll(ctx, auto, event.ContactID, event.Payload, depth)
		if err != nil {
			if isSkip(err) {
				continue
			}
			r.logger.Error("enrollment failed",
				zap.String("event_id", event.ID.String()),
				zap.String("automation_id", auto.ID.String()),
				zap.Error(err),
			)
			continue
		}
		started++
	}
	return started, nil
}

// isSkip reports whether an enrollment error is a business-rule
// short-circuit rather than a failure.
func isSkip(err error) bool {
	return errors.Is(err, automation.ErrAlreadyEnrolled) ||
		errors.Is(err, automation.ErrReEntryBlocked) ||
		errors.Is(err, automation.ErrAutomationNotActive) ||
		errors.Is(err, automation.ErrNoSteps)
}

// configMatches checks an automation's trigger_config against the event
// payload: every configured key must equal the payload's value for that
// key, and unconfigured keys act as wildcards. An empty config matches
// every event of the trigger type.
func configMatches(config, payload json.RawMessage) bool {
	if len(config) == 0 {
		return true
	}

	var want map[string]any
	if err := json.Unmarshal(config, &want); err != nil {
		// An unparseable config can never match anything.
		return false
	}
	if len(want) == 0 {
		return true
	}

	var got map[string]any
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &got)
	}

	for key, wantVal := range want {
		gotVal, ok := got[key]
		if !ok {
			return false
		}
		if !valueEqual(wantVal, gotVal) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	// JSON scalars compare directly; anything structured compares by
	// re-encoding so {"x":1} config matches {"x":1} payload.
	switch a.(type) {
	case string, float64, bool, nil:
		return a == b
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}
