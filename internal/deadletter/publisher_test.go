package deadletter

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestMessage_Marshal(t *testing.T) {
	msg := Message{
		JobID:      uuid.New().String(),
		TenantID:   uuid.New().String(),
		JobType:    "automation_step",
		Payload:    json.RawMessage(`{"run_id":"r-1","step_index":2}`),
		RetryCount: 3,
		Error:      "provider timeout",
		FailedAt:   1234567890,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.JobID != msg.JobID {
		t.Errorf("job id mismatch: got %s, want %s", decoded.JobID, msg.JobID)
	}
	if decoded.JobType != msg.JobType {
		t.Errorf("job type mismatch: got %s, want %s", decoded.JobType, msg.JobType)
	}
	if decoded.RetryCount != msg.RetryCount {
		t.Errorf("retry count mismatch: got %d, want %d", decoded.RetryCount, msg.RetryCount)
	}
	if string(decoded.Payload) != string(msg.Payload) {
		t.Errorf("payload mismatch: got %s", decoded.Payload)
	}
}
