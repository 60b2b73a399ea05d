package automation

import (
	"encoding/json"
	"testing"

	"github.com/cascadehq/cascade/internal/db"
)

func testContact() *db.Contact {
	email := "jordan@example.com"
	phone := "+15551234567"
	return &db.Contact{
		FirstName: "Jordan",
		LastName:  "Lee",
		Email:     &email,
		Phone:     &phone,
		Fields:    json.RawMessage(`{"plan": "pro", "seats": 12, "first_name": "shadowed"}`),
	}
}

func TestMergeTags_BuiltinFields(t *testing.T) {
	got := MergeTags("Hi {{first_name}} {{last_name}}", testContact(), nil)
	if got != "Hi Jordan Lee" {
		t.Fatalf("expected %q, got %q", "Hi Jordan Lee", got)
	}
}

func TestMergeTags_BuiltinWinsOverCustom(t *testing.T) {
	// The contact's custom field bag also defines first_name.
	got := MergeTags("{{first_name}}", testContact(), nil)
	if got != "Jordan" {
		t.Fatalf("built-in should win, got %q", got)
	}
}

func TestMergeTags_CustomFields(t *testing.T) {
	got := MergeTags("plan={{plan}} seats={{seats}}", testContact(), nil)
	if got != "plan=pro seats=12" {
		t.Fatalf("expected custom fields merged, got %q", got)
	}
}

func TestMergeTags_TriggerData(t *testing.T) {
	trigger := json.RawMessage(`{"order_id": "A-1001", "total": 49.5}`)
	got := MergeTags("Order {{trigger.order_id}} for {{trigger.total}}", testContact(), trigger)
	if got != "Order A-1001 for 49.5" {
		t.Fatalf("expected trigger data merged, got %q", got)
	}
}

func TestMergeTags_UnresolvedTagIsEmpty(t *testing.T) {
	got := MergeTags("[{{nonexistent}}]", testContact(), nil)
	if got != "[]" {
		t.Fatalf("unresolved tag should be empty, got %q", got)
	}
}

func TestMergeTags_NilContact(t *testing.T) {
	got := MergeTags("Hi {{first_name}}", nil, nil)
	if got != "Hi " {
		t.Fatalf("expected empty substitution, got %q", got)
	}
}

func TestMergeTags_WhitespaceInsideBraces(t *testing.T) {
	got := MergeTags("Hi {{ first_name }}", testContact(), nil)
	if got != "Hi Jordan" {
		t.Fatalf("expected whitespace-tolerant match, got %q", got)
	}
}

func TestMergeTags_NoTags(t *testing.T) {
	text := "plain text, no placeholders"
	if got := MergeTags(text, testContact(), nil); got != text {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
