// Package api exposes the engine over HTTP: event ingest, job enqueue,
// manual enrollment, delivery webhooks, and the scheduler endpoints that
// drive the router and dispatcher.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/automation"
	"github.com/cascadehq/cascade/internal/db"
	"github.com/cascadehq/cascade/internal/dispatch"
	"github.com/cascadehq/cascade/internal/router"
)

// EventStore appends inbound events to the log.
type EventStore interface {
	Append(ctx context.Context, event *db.Event) error
}

// JobQueue is the enqueue/lookup surface exposed over the API.
type JobQueue interface {
	Enqueue(ctx context.Context, p db.EnqueueParams) (*uuid.UUID, error)
}

// JobReader loads individual jobs for status checks.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*db.Job, error)
}

// AutomationStore covers the automation operations the API mediates.
type AutomationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Automation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStore reads runs and cancels them when their automation goes away.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.AutomationRun, error)
	CancelForAutomation(ctx context.Context, automationID uuid.UUID) (int64, error)
}

// CampaignStore pauses campaigns on terminal delivery failures.
type CampaignStore interface {
	Pause(ctx context.Context, id uuid.UUID, reason string) error
}

// EventProcessor is the router's scheduler-facing surface.
type EventProcessor interface {
	ProcessEvents(ctx context.Context, batchLimit int) (*router.Result, error)
}

// JobProcessor is the dispatcher's scheduler-facing surface.
type JobProcessor interface {
	ProcessJobs(ctx context.Context, batchLimit int) (*dispatch.Result, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	events      EventStore
	queue       JobQueue
	jobs        JobReader
	automations AutomationStore
	runs        RunStore
	campaigns   CampaignStore
	enroller    *automation.Enroller
	router      EventProcessor
	dispatcher  JobProcessor

	eventBatchLimit int
	jobBatchLimit   int
}

// Deps bundles the handler's collaborators.
type Deps struct {
	Events      EventStore
	Queue       JobQueue
	Jobs        JobReader
	Automations AutomationStore
	Runs        RunStore
	Campaigns   CampaignStore
	Enroller    *automation.Enroller
	Router      EventProcessor
	Dispatcher  JobProcessor

	EventBatchLimit int
	JobBatchLimit   int
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if deps.EventBatchLimit <= 0 {
		deps.EventBatchLimit = router.DefaultBatchLimit
	}
	if deps.JobBatchLimit <= 0 {
		deps.JobBatchLimit = dispatch.DefaultBatchLimit
	}
	return &Handler{
		logger:          logger,
		events:          deps.Events,
		queue:           deps.Queue,
		jobs:            deps.Jobs,
		automations:     deps.Automations,
		runs:            deps.Runs,
		campaigns:       deps.Campaigns,
		enroller:        deps.Enroller,
		router:          deps.Router,
		dispatcher:      deps.Dispatcher,
		eventBatchLimit: deps.EventBatchLimit,
		jobBatchLimit:   deps.JobBatchLimit,
	}
}

// EventRequest is the body of POST /v1/events.
type EventRequest struct {
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	ContactID string          `json:"contact_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CreateEvent handles POST /v1/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TenantID == "" || req.EventType == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "tenant_id and event_type are required")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tenant_id", "tenant_id must be a valid UUID")
		return
	}

	var contactID *uuid.UUID
	if req.ContactID != "" {
		id, err := uuid.Parse(req.ContactID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid contact_id", "contact_id must be a valid UUID")
			return
		}
		contactID = &id
	}

	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid payload", "payload must be valid JSON")
		return
	}

	event := &db.Event{
		TenantID:  tenantID,
		Type:      db.EventType(req.EventType),
		ContactID: contactID,
		Payload:   req.Payload,
	}
	if err := h.events.Append(ctx, event); err != nil {
		h.logger.Error("failed to append event",
			zap.Error(err),
			zap.String("tenant_id", req.TenantID),
			zap.String("event_type", req.EventType),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to record event", "")
		return
	}

	h.logger.Info("event recorded",
		zap.String("event_id", event.ID.String()),
		zap.String("tenant_id", req.TenantID),
		zap.String("event_type", req.EventType),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": event.ID.String()})
}

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	TenantID       string          `json:"tenant_id"`
	JobType        string          `json:"job_type"`
	Payload        json.RawMessage `json:"payload"`
	ExecuteAt      *time.Time      `json:"execute_at,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	MaxRetries     int             `json:"max_retries,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

var validJobTypes = map[db.JobType]bool{
	db.JobEmailCampaignSend: true,
	db.JobSMSCampaignSend:   true,
	db.JobAutomationStep:    true,
	db.JobSocialPostPublish: true,
	db.JobTokenRefresh:      true,
	db.JobSegmentRecount:    true,
	db.JobEngagementFetch:   true,
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TenantID == "" || req.JobType == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "tenant_id and job_type are required")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tenant_id", "tenant_id must be a valid UUID")
		return
	}

	jobType := db.JobType(req.JobType)
	if !validJobTypes[jobType] {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid job_type", "unknown job type "+req.JobType)
		return
	}

	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid payload", "payload must be valid JSON")
		return
	}

	params := db.EnqueueParams{
		TenantID:       tenantID,
		Type:           jobType,
		Payload:        req.Payload,
		Priority:       req.Priority,
		MaxRetries:     req.MaxRetries,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.ExecuteAt != nil {
		params.ExecuteAt = *req.ExecuteAt
	}

	id, err := h.queue.Enqueue(ctx, params)
	if err != nil {
		h.logger.Error("failed to enqueue job",
			zap.Error(err),
			zap.String("tenant_id", req.TenantID),
			zap.String("job_type", req.JobType),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to enqueue job", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if id == nil {
		// Idempotency key collision: the job already exists.
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           nil,
			"deduplicated": true,
		})
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id.String()})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid job ID", "ID must be a valid UUID")
		return
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Job not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(job)
}

// EnrollRequest is the body of POST /v1/automations/{id}/enroll.
type EnrollRequest struct {
	ContactID string `json:"contact_id"`
}

// EnrollContact handles POST /v1/automations/{id}/enroll — manual
// enrollment, bypassing the event log but applying the same re-entry rules
// the router does.
func (h *Handler) EnrollContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	automationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid automation ID", "ID must be a valid UUID")
		return
	}

	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	contactID, err := uuid.Parse(req.ContactID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid contact_id", "contact_id must be a valid UUID")
		return
	}

	auto, err := h.automations.Get(ctx, automationID)
	if err != nil {
		if errors.Is(err, db.ErrAutomationNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Automation not found", "")
			return
		}
		h.logger.Error("failed to load automation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load automation", "")
		return
	}

	run, err := h.enroller.Enroll(ctx, auto, &contactID, json.RawMessage(`{"source":"manual"}`), 0)
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrAutomationNotActive):
			h.writeError(w, http.StatusUnprocessableEntity, "automation_not_active", "Automation is not active", "")
		case errors.Is(err, automation.ErrNoSteps):
			h.writeError(w, http.StatusUnprocessableEntity, "no_steps", "Automation has no steps", "")
		case errors.Is(err, automation.ErrAlreadyEnrolled):
			h.writeError(w, http.StatusConflict, "already_enrolled", "Contact already has an active run", "")
		case errors.Is(err, automation.ErrReEntryBlocked):
			h.writeError(w, http.StatusConflict, "re_entry_blocked", "Contact is not eligible for re-entry", "")
		default:
			h.logger.Error("enrollment failed",
				zap.Error(err),
				zap.String("automation_id", automationID.String()),
			)
			h.writeError(w, http.StatusInternalServerError, "enrollment_error", "Failed to enroll contact", "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(run)
}

// DeleteAutomation handles DELETE /v1/automations/{id}. All in-flight runs
// are cancelled; their queued step jobs become no-ops when they fire.
func (h *Handler) DeleteAutomation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	automationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid automation ID", "ID must be a valid UUID")
		return
	}

	cancelled, err := h.runs.CancelForAutomation(ctx, automationID)
	if err != nil {
		h.logger.Error("failed to cancel runs", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to cancel runs", "")
		return
	}

	if err := h.automations.Delete(ctx, automationID); err != nil {
		if errors.Is(err, db.ErrAutomationNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Automation not found", "")
			return
		}
		h.logger.Error("failed to delete automation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete automation", "")
		return
	}

	h.logger.Info("automation deleted",
		zap.String("automation_id", automationID.String()),
		zap.Int64("runs_cancelled", cancelled),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":             automationID.String(),
		"runs_cancelled": cancelled,
	})
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid run ID", "ID must be a valid UUID")
		return
	}

	run, err := h.runs.Get(ctx, runID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Run not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(run)
}

// DeliveryWebhookRequest is the body providers post to
// POST /v1/webhooks/delivery.
type DeliveryWebhookRequest struct {
	TenantID   string          `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	ContactID  string          `json:"contact_id,omitempty"`
	CampaignID string          `json:"campaign_id,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// carrierViolationCodes are SMS provider rejections that indicate the
// campaign content itself violates carrier policy. Retrying other sends of
// the same campaign would only compound the damage, so the campaign is
// paused.
var carrierViolationCodes = map[string]bool{
	"30007": true, // carrier violation / filtered
	"30008": true, // unknown error, treated as filtering
}

// DeliveryWebhook handles POST /v1/webhooks/delivery: provider delivery
// callbacks become events, and carrier policy violations pause the
// offending campaign.
func (h *Handler) DeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeliveryWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TenantID == "" || req.EventType == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "tenant_id and event_type are required")
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tenant_id", "tenant_id must be a valid UUID")
		return
	}

	var contactID *uuid.UUID
	if req.ContactID != "" {
		if id, err := uuid.Parse(req.ContactID); err == nil {
			contactID = &id
		}
	}

	if carrierViolationCodes[req.ErrorCode] && req.CampaignID != "" {
		if campaignID, err := uuid.Parse(req.CampaignID); err == nil {
			if err := h.campaigns.Pause(ctx, campaignID, "carrier violation "+req.ErrorCode); err != nil {
				h.logger.Error("failed to pause campaign on carrier violation",
					zap.Error(err),
					zap.String("campaign_id", req.CampaignID),
				)
			}
		}
	}

	event := &db.Event{
		TenantID:  tenantID,
		Type:      db.EventType(req.EventType),
		ContactID: contactID,
		Payload:   req.Payload,
	}
	if err := h.events.Append(ctx, event); err != nil {
		h.logger.Error("failed to record delivery event", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to record event", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": event.ID.String()})
}

// ProcessEvents handles POST /internal/process-events, the scheduler's
// entry point into the router.
func (h *Handler) ProcessEvents(w http.ResponseWriter, r *http.Request) {
	result, err := h.router.ProcessEvents(r.Context(), h.eventBatchLimit)
	if err != nil {
		h.logger.Error("process-events pass failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "processing_error", "Event processing failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// ProcessJobs handles POST /internal/process-jobs, the scheduler's entry
// point into the dispatcher.
func (h *Handler) ProcessJobs(w http.ResponseWriter, r *http.Request) {
	result, err := h.dispatcher.ProcessJobs(r.Context(), h.jobBatchLimit)
	if err != nil {
		h.logger.Error("process-jobs pass failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "processing_error", "Job processing failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
