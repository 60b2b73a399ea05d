package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogProvider implements every capability interface by logging the call.
// Used in development and as a fallback when AWS credentials are absent.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a log-only provider.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) SendEmail(ctx context.Context, to, from, subject, html string) (*EmailResult, error) {
	p.logger.Info("email send (development mode)",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return &EmailResult{MessageID: uuid.NewString()}, nil
}

func (p *LogProvider) SendSMS(ctx context.Context, to, body, from string) (*SMSResult, error) {
	p.logger.Info("sms send (development mode)",
		zap.String("to", to),
	)
	return &SMSResult{SID: uuid.NewString(), SegmentCount: 1}, nil
}

func (p *LogProvider) PublishPost(ctx context.Context, platform string, creds Credentials, content string) (*PostResult, error) {
	p.logger.Info("social post publish (development mode)",
		zap.String("platform", platform),
	)
	return &PostResult{PostID: uuid.NewString()}, nil
}

func (p *LogProvider) RefreshToken(ctx context.Context, platform, refreshToken string) (*Token, error) {
	p.logger.Info("token refresh (development mode)",
		zap.String("platform", platform),
	)
	return &Token{AccessToken: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *LogProvider) FetchEngagement(ctx context.Context, platform string, creds Credentials, postID string) (*Engagement, error) {
	p.logger.Info("engagement fetch (development mode)",
		zap.String("platform", platform),
		zap.String("post_id", postID),
	)
	return &Engagement{}, nil
}
