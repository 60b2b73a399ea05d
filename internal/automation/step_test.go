package automation

import (
	"encoding/json"
	"testing"
)

func TestDecodeSteps_Empty(t *testing.T) {
	steps, err := DecodeSteps(nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("expected no steps, got %d", len(steps))
	}
}

func TestDecodeSteps_Invalid(t *testing.T) {
	_, err := DecodeSteps(json.RawMessage(`{"not":"a list"}`))
	if err == nil {
		t.Fatal("expected error for non-array steps")
	}
}

func TestValidateSteps_Valid(t *testing.T) {
	raw := json.RawMessage(`[
		{"type": "send_email", "subject": "Welcome", "body": "Hi {{first_name}}"},
		{"type": "wait", "minutes": 60},
		{"type": "add_tag", "tag_id": "3f2c8e1a-9b4d-4c6f-8a2e-1d5b7c9e0f3a"},
		{"type": "if_else", "condition": {"source": "contact", "field": "plan", "op": "equals", "value": "pro"}, "then_step": 5, "else_step": 6},
		{"type": "go_to", "target_step": 1},
		{"type": "send_sms", "message": "Hello"},
		{"type": "update_field", "field": "status", "value": "onboarded"},
		{"type": "webhook", "url": "https://example.com/hook", "method": "POST"}
	]`)

	steps, err := DecodeSteps(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := ValidateSteps(steps); err != nil {
		t.Fatalf("expected valid steps, got %v", err)
	}
}

func TestValidateSteps_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `[{"type": "teleport"}]`},
		{"email without subject", `[{"type": "send_email", "body": "hi"}]`},
		{"sms without message", `[{"type": "send_sms"}]`},
		{"bad tag id", `[{"type": "add_tag", "tag_id": "not-a-uuid"}]`},
		{"wait without minutes", `[{"type": "wait"}]`},
		{"negative wait", `[{"type": "wait", "minutes": -5}]`},
		{"update_field without field", `[{"type": "update_field", "value": "x"}]`},
		{"webhook without url", `[{"type": "webhook", "method": "POST"}]`},
		{"if_else without condition", `[{"type": "if_else", "then_step": 0}]`},
		{"if_else bad op", `[{"type": "if_else", "condition": {"source": "contact", "field": "x", "op": "matches", "value": "y"}}]`},
		{"if_else bad source", `[{"type": "if_else", "condition": {"source": "weather", "field": "x", "op": "equals", "value": "y"}}]`},
		{"if_else target out of range", `[{"type": "if_else", "condition": {"source": "contact", "field": "x", "op": "exists"}, "then_step": 9}]`},
		{"go_to without target", `[{"type": "go_to"}]`},
		{"go_to target out of range", `[{"type": "go_to", "target_step": 3}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			steps, err := DecodeSteps(json.RawMessage(tc.raw))
			if err != nil {
				return // decode failure counts as rejected
			}
			if err := ValidateSteps(steps); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
