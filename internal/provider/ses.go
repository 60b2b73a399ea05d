package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESClient sends email via AWS SES.
type SESClient struct {
	client *ses.Client
	logger *zap.Logger
}

type SESConfig struct {
	Region string
}

// NewSESClient creates an SES-backed email sender.
func NewSESClient(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESClient{
		client: ses.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// SendEmail sends one email via SES.
func (s *SESClient) SendEmail(ctx context.Context, to, from, subject, html string) (*EmailResult, error) {
	if to == "" {
		return nil, fmt.Errorf("email send missing recipient")
	}
	if subject == "" {
		return nil, fmt.Errorf("email send missing subject")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(html),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", to),
		zap.String("message_id", *result.MessageId),
	)

	return &EmailResult{MessageID: *result.MessageId}, nil
}
