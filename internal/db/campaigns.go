package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CampaignStore exposes the campaign status transitions the engine needs.
// Campaign authoring and scheduling live in the excluded CRUD layer.
type CampaignStore struct {
	db     *DB
	logger *zap.Logger
}

// NewCampaignStore creates a new campaign store.
func NewCampaignStore(db *DB, logger *zap.Logger) *CampaignStore {
	return &CampaignStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a campaign by id.
func (s *CampaignStore) Get(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	var c Campaign
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, tenant_id, name, channel, status, created_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("campaign not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign: %w", err)
	}
	return &c, nil
}

// Pause sets a campaign's status to paused. Delivery webhooks call this on
// carrier-policy violations so the failure is visible in the UI.
func (s *CampaignStore) Pause(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE campaigns SET status = $1 WHERE id = $2 AND status != $1
	`, CampaignStatusPaused, id)
	if err != nil {
		return fmt.Errorf("pause campaign: %w", err)
	}

	if result.RowsAffected() > 0 {
		s.logger.Warn("campaign paused",
			zap.String("campaign_id", id.String()),
			zap.String("reason", reason),
		)
	}
	return nil
}
