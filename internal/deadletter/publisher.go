// Package deadletter ships terminally failed jobs to an SQS queue so they
// can be inspected and replayed by operators instead of vanishing into a
// status column.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/db"
)

// Config holds dead-letter queue configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the dead-letter record for one exhausted job.
type Message struct {
	JobID      string          `json:"job_id"`
	TenantID   string          `json:"tenant_id"`
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error"`
	FailedAt   int64           `json:"failed_at"`
}

// Publisher sends dead-letter messages to SQS.
type Publisher struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates an SQS-backed dead-letter publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("dead-letter publisher initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Publisher{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish ships one terminally failed job to the dead-letter queue.
// Returns the SQS message id for tracking.
func (p *Publisher) Publish(ctx context.Context, job *db.Job, jobErr string) (string, error) {
	msg := Message{
		JobID:      job.ID.String(),
		TenantID:   job.TenantID.String(),
		JobType:    string(job.Type),
		Payload:    job.Payload,
		RetryCount: job.RetryCount,
		Error:      jobErr,
		FailedAt:   time.Now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}
