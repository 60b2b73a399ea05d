package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// AccountStore handles connected social account credentials. Token refresh
// jobs read the refresh token and persist the rotated access token.
type AccountStore struct {
	db     *DB
	logger *zap.Logger
}

// NewAccountStore creates a new social account store.
func NewAccountStore(db *DB, logger *zap.Logger) *AccountStore {
	return &AccountStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a social account by id.
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*SocialAccount, error) {
	var a SocialAccount
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, tenant_id, platform, access_token, refresh_token, token_expires_at, created_at
		FROM social_accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.TenantID, &a.Platform, &a.AccessToken, &a.RefreshToken, &a.TokenExpiresAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("social account not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query social account: %w", err)
	}
	return &a, nil
}

// UpdateToken stores a freshly rotated access token and its expiry.
func (s *AccountStore) UpdateToken(ctx context.Context, id uuid.UUID, accessToken string, expiresAt time.Time) error {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE social_accounts SET access_token = $1, token_expires_at = $2 WHERE id = $3
	`, accessToken, expiresAt, id)
	if err != nil {
		return fmt.Errorf("update account token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("social account not found: %s", id)
	}

	s.logger.Info("social account token refreshed",
		zap.String("account_id", id.String()),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
