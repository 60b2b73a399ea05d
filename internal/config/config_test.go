package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("EVENT_BATCH_LIMIT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.EventBatchLimit != 100 {
		t.Errorf("expected event batch limit 100, got %d", cfg.EventBatchLimit)
	}

	if cfg.JobBatchLimit != 50 {
		t.Errorf("expected job batch limit 50, got %d", cfg.JobBatchLimit)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("ENV", "production")
	os.Setenv("SQS_DLQ_URL", "https://sqs.us-east-1.amazonaws.com/1/cascade-dlq")
	os.Setenv("EVENT_RATE_LIMIT", "120")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ENV")
		os.Unsetenv("SQS_DLQ_URL")
		os.Unsetenv("EVENT_RATE_LIMIT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}

	if cfg.SQSDLQURL == "" {
		t.Error("expected dlq url to be set")
	}

	if cfg.EventRateLimit != 120 {
		t.Errorf("expected rate limit 120, got %d", cfg.EventRateLimit)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	os.Setenv("PORT", "not-a-number")
	defer os.Unsetenv("PORT")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_SQSRegionFallsBackToAWSRegion(t *testing.T) {
	os.Setenv("AWS_REGION", "eu-west-1")
	os.Unsetenv("SQS_REGION")
	defer os.Unsetenv("AWS_REGION")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("expected sqs region to follow AWS_REGION, got %s", cfg.SQSRegion)
	}
}
