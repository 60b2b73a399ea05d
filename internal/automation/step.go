// Package automation interprets automation definitions: the step list, the
// condition grammar, and the run state machine that walks a contact through
// the steps.
package automation

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StepType enumerates the supported automation step kinds.
type StepType string

const (
	StepSendEmail   StepType = "send_email"
	StepSendSMS     StepType = "send_sms"
	StepAddTag      StepType = "add_tag"
	StepRemoveTag   StepType = "remove_tag"
	StepWait        StepType = "wait"
	StepUpdateField StepType = "update_field"
	StepWebhook     StepType = "webhook"
	StepIfElse      StepType = "if_else"
	StepGoTo        StepType = "go_to"
)

// Condition is evaluated by if_else steps against the contact and the
// run's trigger data.
//
// Source selects where Field is looked up: "contact" (built-in and custom
// contact fields) or "trigger" (the triggering event payload). Op is one of
// equals, not_equals, contains, exists, not_exists, has_tag. For has_tag,
// Value holds the tag id.
type Condition struct {
	Source string `json:"source"`
	Field  string `json:"field,omitempty"`
	Op     string `json:"op"`
	Value  string `json:"value,omitempty"`
}

// Step is one entry of an automation's ordered step list. The Type tag
// selects which of the optional parameter fields apply; DecodeSteps plus
// ValidateSteps enforce that the required ones are present, so execution
// never meets a half-formed step.
type Step struct {
	Type StepType `json:"type"`

	// send_email
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`

	// send_sms
	Message string `json:"message,omitempty"`

	// add_tag / remove_tag
	TagID string `json:"tag_id,omitempty"`

	// wait
	Minutes int `json:"minutes,omitempty"`

	// update_field
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`

	// webhook
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`

	// if_else
	Condition *Condition `json:"condition,omitempty"`
	ThenStep  *int       `json:"then_step,omitempty"`
	ElseStep  *int       `json:"else_step,omitempty"`

	// go_to
	TargetStep *int `json:"target_step,omitempty"`
}

var validOps = map[string]bool{
	"equals":     true,
	"not_equals": true,
	"contains":   true,
	"exists":     true,
	"not_exists": true,
	"has_tag":    true,
}

// DecodeSteps parses an automation's stored step list.
func DecodeSteps(raw json.RawMessage) ([]Step, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var steps []Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

// ValidateSteps checks a step list for configuration errors. Enrollment and
// the run engine both call it before interpreting steps, so a bad stored
// definition is rejected before any of it executes instead of surfacing
// mid-run.
func ValidateSteps(steps []Step) error {
	for i, step := range steps {
		if err := validateStep(step, i, len(steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step, index, total int) error {
	switch step.Type {
	case StepSendEmail:
		if step.Subject == "" {
			return fmt.Errorf("step %d: send_email requires subject", index)
		}
	case StepSendSMS:
		if step.Message == "" {
			return fmt.Errorf("step %d: send_sms requires message", index)
		}
	case StepAddTag, StepRemoveTag:
		if _, err := uuid.Parse(step.TagID); err != nil {
			return fmt.Errorf("step %d: %s requires a valid tag_id", index, step.Type)
		}
	case StepWait:
		if step.Minutes <= 0 {
			return fmt.Errorf("step %d: wait requires positive minutes", index)
		}
	case StepUpdateField:
		if step.Field == "" {
			return fmt.Errorf("step %d: update_field requires field", index)
		}
	case StepWebhook:
		if step.URL == "" {
			return fmt.Errorf("step %d: webhook requires url", index)
		}
	case StepIfElse:
		if step.Condition == nil {
			return fmt.Errorf("step %d: if_else requires condition", index)
		}
		if !validOps[step.Condition.Op] {
			return fmt.Errorf("step %d: unknown condition op %q", index, step.Condition.Op)
		}
		if step.Condition.Source != "contact" && step.Condition.Source != "trigger" {
			return fmt.Errorf("step %d: condition source must be contact or trigger", index)
		}
		if err := validateTarget(step.ThenStep, index, total); err != nil {
			return err
		}
		if err := validateTarget(step.ElseStep, index, total); err != nil {
			return err
		}
	case StepGoTo:
		if step.TargetStep == nil {
			return fmt.Errorf("step %d: go_to requires target_step", index)
		}
		if err := validateTarget(step.TargetStep, index, total); err != nil {
			return err
		}
	default:
		return fmt.Errorf("step %d: unknown step type %q", index, step.Type)
	}
	return nil
}

func validateTarget(target *int, index, total int) error {
	if target == nil {
		return nil
	}
	if *target < 0 || *target >= total {
		return fmt.Errorf("step %d: branch target %d out of range", index, *target)
	}
	return nil
}
