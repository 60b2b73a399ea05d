package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StepPayload is the payload of an automation_step job. ChainDepth is
// carried through from the triggering event so side-effect events the step
// emits can be stamped one hop deeper.
type StepPayload struct {
	RunID      uuid.UUID `json:"run_id"`
	StepIndex  int       `json:"step_index"`
	ChainDepth int       `json:"_chain_depth"`
}

// EmailSendPayload is the payload of an email_campaign_send job: one
// rendered email to one recipient.
type EmailSendPayload struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	To         string    `json:"to"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	HTML       string    `json:"html"`
}

// SMSSendPayload is the payload of an sms_campaign_send job.
type SMSSendPayload struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	To         string    `json:"to"`
	From       string    `json:"from,omitempty"`
	Body       string    `json:"body"`
}

// SocialPublishPayload is the payload of a social_post_publish job.
type SocialPublishPayload struct {
	AccountID uuid.UUID `json:"account_id"`
	Platform  string    `json:"platform"`
	Content   string    `json:"content"`
}

// TokenRefreshPayload is the payload of a token_refresh job.
type TokenRefreshPayload struct {
	AccountID uuid.UUID `json:"account_id"`
}

// SegmentRecountPayload is the payload of a segment_recount job. Segments
// are tag-backed, so the recount counts tag membership.
type SegmentRecountPayload struct {
	SegmentID uuid.UUID `json:"segment_id"`
	TagID     uuid.UUID `json:"tag_id"`
}

// EngagementFetchPayload is the payload of an engagement_fetch job.
type EngagementFetchPayload struct {
	AccountID uuid.UUID `json:"account_id"`
	Platform  string    `json:"platform"`
	PostID    string    `json:"post_id"`
}

// DecodePayload unmarshals a job payload into the typed struct for its job
// type. A malformed payload is a permanent error; retrying cannot fix it.
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &p, nil
}
