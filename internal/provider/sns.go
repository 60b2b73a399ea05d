package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSClient sends SMS messages via AWS SNS.
type SNSClient struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSClient creates an SNS-backed SMS sender.
func NewSNSClient(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSClient{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// SendSMS sends one SMS via SNS. SNS has no sender number concept for raw
// SMS publishes, so from is ignored here.
func (s *SNSClient) SendSMS(ctx context.Context, to, body, from string) (*SMSResult, error) {
	if to == "" {
		return nil, fmt.Errorf("sms send missing phone number")
	}
	if body == "" {
		return nil, fmt.Errorf("sms send missing body")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("phone_number", to),
		zap.String("message_id", *result.MessageId),
	)

	return &SMSResult{SID: *result.MessageId, SegmentCount: 1}, nil
}
