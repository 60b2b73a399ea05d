package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/provider"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("closed breaker should allow requests")
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("breaker should stay closed below the threshold")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Fatal("non-consecutive failures should not open the breaker")
	}
}

func TestCircuitBreaker_HalfOpenProbeAfterTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker should allow a probe after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("half-open breaker should allow only one probe")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open after probe failure, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatal("reset should close the breaker")
	}
	if !cb.Allow() {
		t.Fatal("reset breaker should allow requests")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()

	stats := cb.Stats()
	if stats.TotalRequests != 2 {
		t.Fatalf("expected 2 requests, got %d", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 1 || stats.TotalFailures != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.State != "closed" {
		t.Fatalf("expected closed state, got %s", stats.State)
	}
}

type flakyEmailSender struct {
	err   error
	calls int
}

func (f *flakyEmailSender) SendEmail(_ context.Context, to, from, subject, html string) (*provider.EmailResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provider.EmailResult{MessageID: "msg-1"}, nil
}

func TestProtectedEmailSender_FailsFastWhenOpen(t *testing.T) {
	sender := &flakyEmailSender{err: errors.New("provider down")}
	cb := newTestBreaker(2, time.Minute)
	protected := NewProtectedEmailSender(sender, cb, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := protected.SendEmail(ctx, "a@b.co", "noreply@x.co", "s", "h"); err == nil {
			t.Fatal("expected provider error")
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open after consecutive failures")
	}

	_, err := protected.SendEmail(ctx, "a@b.co", "noreply@x.co", "s", "h")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if sender.calls != 2 {
		t.Fatalf("open breaker should not reach the provider, got %d calls", sender.calls)
	}
}

type flakySMSSender struct {
	err error
}

func (f *flakySMSSender) SendSMS(_ context.Context, to, body, from string) (*provider.SMSResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &provider.SMSResult{SID: "sid-1", SegmentCount: 1}, nil
}

func TestProtectedSMSSender_RecoversAfterProbe(t *testing.T) {
	sender := &flakySMSSender{err: errors.New("provider down")}
	cb := newTestBreaker(1, 10*time.Millisecond)
	protected := NewProtectedSMSSender(sender, cb, zap.NewNop())

	ctx := context.Background()
	if _, err := protected.SendSMS(ctx, "+15550100", "hi", "CASCADE"); err == nil {
		t.Fatal("expected provider error")
	}
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	sender.err = nil
	time.Sleep(20 * time.Millisecond)

	result, err := protected.SendSMS(ctx, "+15550100", "hi", "CASCADE")
	if err != nil {
		t.Fatalf("probe send failed: %v", err)
	}
	if result.SID != "sid-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if cb.GetState() != StateClosed {
		t.Fatal("successful probe should close the breaker")
	}
}
