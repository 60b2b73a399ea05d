package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/provider"
)

// ProtectedEmailSender wraps an EmailSender with a CircuitBreaker. When the
// provider starts failing, the circuit opens and sends fail fast instead of
// burning the job's retry budget on a dead service.
type ProtectedEmailSender struct {
	sender  provider.EmailSender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedEmailSender wraps an email sender with breaker protection.
func NewProtectedEmailSender(sender provider.EmailSender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedEmailSender {
	return &ProtectedEmailSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// SendEmail attempts the send through the circuit breaker.
func (p *ProtectedEmailSender) SendEmail(ctx context.Context, to, from, subject, html string) (*provider.EmailResult, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected email send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	result, err := p.sender.SendEmail(ctx, to, from, subject, html)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedEmailSender) Breaker() *CircuitBreaker {
	return p.breaker
}

// ProtectedSMSSender wraps an SMSSender with a CircuitBreaker.
type ProtectedSMSSender struct {
	sender  provider.SMSSender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSMSSender wraps an SMS sender with breaker protection.
func NewProtectedSMSSender(sender provider.SMSSender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSMSSender {
	return &ProtectedSMSSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// SendSMS attempts the send through the circuit breaker.
func (p *ProtectedSMSSender) SendSMS(ctx context.Context, to, body, from string) (*provider.SMSResult, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected sms send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	result, err := p.sender.SendSMS(ctx, to, body, from)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedSMSSender) Breaker() *CircuitBreaker {
	return p.breaker
}
