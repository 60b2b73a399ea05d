package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which handler executes a queued job.
type JobType string

const (
	JobEmailCampaignSend JobType = "email_campaign_send"
	JobSMSCampaignSend   JobType = "sms_campaign_send"
	JobAutomationStep    JobType = "automation_step"
	JobSocialPostPublish JobType = "social_post_publish"
	JobTokenRefresh      JobType = "token_refresh"
	JobSegmentRecount    JobType = "segment_recount"
	JobEngagementFetch   JobType = "engagement_fetch"
)

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is one unit of deferred work in the queue table.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Type           JobType         `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Priority       int             `json:"priority"`
	ExecuteAt      time.Time       `json:"execute_at"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// EventType identifies a business occurrence recorded in the event log.
type EventType string

const (
	EventContactCreated  EventType = "contact_created"
	EventTagAdded        EventType = "tag_added"
	EventTagRemoved      EventType = "tag_removed"
	EventEmailOpened     EventType = "email_opened"
	EventEmailClicked    EventType = "email_clicked"
	EventSMSDelivered    EventType = "sms_delivered"
	EventSMSReplied      EventType = "sms_replied"
	EventFormSubmitted   EventType = "form_submitted"
	EventWebhookReceived EventType = "webhook_received"
)

// Event is an immutable record of something that happened to a tenant's data.
// The payload may carry a _chain_depth counter used to break automation loops.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Type      EventType       `json:"event_type"`
	ContactID *uuid.UUID      `json:"contact_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Processed bool            `json:"processed"`
	CreatedAt time.Time       `json:"created_at"`
}

// chainDepthField is the payload key carrying the automation hop count.
const chainDepthField = "_chain_depth"

// ChainDepth extracts the _chain_depth counter from an event or job payload.
// Absent or malformed values count as depth 0.
func ChainDepth(payload json.RawMessage) int {
	if len(payload) == 0 {
		return 0
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return 0
	}
	raw, ok := m[chainDepthField]
	if !ok {
		return 0
	}
	var depth int
	if err := json.Unmarshal(raw, &depth); err != nil {
		return 0
	}
	if depth < 0 {
		return 0
	}
	return depth
}

// WithChainDepth returns a copy of the payload with _chain_depth set.
func WithChainDepth(payload json.RawMessage, depth int) json.RawMessage {
	m := map[string]json.RawMessage{}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &m)
	}
	raw, _ := json.Marshal(depth)
	m[chainDepthField] = raw
	out, _ := json.Marshal(m)
	return out
}

// Automation status constants
const (
	AutomationStatusDraft    = "draft"
	AutomationStatusActive   = "active"
	AutomationStatusPaused   = "paused"
	AutomationStatusArchived = "archived"
)

// Automation is a persisted trigger plus ordered step list. The CRUD layer
// owns writes; the engine only reads these rows.
type Automation struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Name          string          `json:"name"`
	Status        string          `json:"status"`
	TriggerType   string          `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config"`
	Steps         json.RawMessage `json:"steps"`
	AllowReEntry  bool            `json:"allow_re_entry"`
	ReEntryDelay  string          `json:"re_entry_delay"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusWaiting   = "waiting"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
)

// AutomationRun is one execution of one automation for one contact.
type AutomationRun struct {
	ID           uuid.UUID       `json:"id"`
	AutomationID uuid.UUID       `json:"automation_id"`
	ContactID    *uuid.UUID      `json:"contact_id,omitempty"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	Status       string          `json:"status"`
	TriggerData  json.RawMessage `json:"trigger_data"`
	CurrentStep  int             `json:"current_step"`
	StepsTaken   int             `json:"steps_taken"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the run can no longer be advanced.
func (r *AutomationRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusCancelled
}

// Contact is the slice of the CRM contact the engine needs: addressing
// fields for sends plus the custom field bag for merge tags and conditions.
type Contact struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Email     *string         `json:"email,omitempty"`
	Phone     *string         `json:"phone,omitempty"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Fields    json.RawMessage `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
}

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusPaused    = "paused"
)

// Campaign is the minimal campaign surface the engine touches: its status
// is how terminal delivery failures become visible to users.
type Campaign struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SocialAccount holds a connected social account's OAuth credentials.
type SocialAccount struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Platform       string     `json:"platform"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
