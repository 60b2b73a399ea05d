package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrContactNotFound is returned when no contact row matches.
var ErrContactNotFound = errors.New("contact not found")

// ContactStore is the engine's narrow window into the CRM tables: contact
// lookup, tag association upserts, and custom field updates. Contact CRUD
// itself lives in the excluded API layer.
type ContactStore struct {
	db     *DB
	logger *zap.Logger
}

// NewContactStore creates a new contact store.
func NewContactStore(db *DB, logger *zap.Logger) *ContactStore {
	return &ContactStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a contact by id.
func (s *ContactStore) Get(ctx context.Context, id uuid.UUID) (*Contact, error) {
	query := `
		SELECT id, tenant_id, email, phone, first_name, last_name, fields, created_at
		FROM contacts
		WHERE id = $1
	`

	var c Contact
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.TenantID,
		&c.Email,
		&c.Phone,
		&c.FirstName,
		&c.LastName,
		&c.Fields,
		&c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}

	return &c, nil
}

// AddTag associates a tag with a contact. Re-adding an existing tag is a
// no-op; the bool result reports whether a new association was created.
func (s *ContactStore) AddTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error) {
	result, err := s.db.Pool().Exec(ctx, `
		INSERT INTO contact_tags (contact_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (contact_id, tag_id) DO NOTHING
	`, contactID, tagID)
	if err != nil {
		return false, fmt.Errorf("add contact tag: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// RemoveTag deletes a tag association. Removing an absent tag is a no-op;
// the bool result reports whether an association existed.
func (s *ContactStore) RemoveTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error) {
	result, err := s.db.Pool().Exec(ctx, `
		DELETE FROM contact_tags WHERE contact_id = $1 AND tag_id = $2
	`, contactID, tagID)
	if err != nil {
		return false, fmt.Errorf("remove contact tag: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// HasTag reports whether the contact carries the tag.
func (s *ContactStore) HasTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contact_tags WHERE contact_id = $1 AND tag_id = $2
		)
	`, contactID, tagID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check contact tag: %w", err)
	}
	return exists, nil
}

// UpdateField sets one key in the contact's custom field bag.
func (s *ContactStore) UpdateField(ctx context.Context, contactID uuid.UUID, field, value string) error {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE contacts
		SET fields = jsonb_set(COALESCE(fields, '{}'::jsonb), ARRAY[$1], to_jsonb($2::text))
		WHERE id = $3
	`, field, value, contactID)
	if err != nil {
		return fmt.Errorf("update contact field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrContactNotFound
	}

	s.logger.Debug("contact field updated",
		zap.String("contact_id", contactID.String()),
		zap.String("field", field),
	)
	return nil
}

// CountByTag returns how many of the tenant's contacts carry the tag. Used
// by segment recount jobs; segments are tag-backed.
func (s *ContactStore) CountByTag(ctx context.Context, tenantID, tagID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*)
		FROM contact_tags ct
		JOIN contacts c ON c.id = ct.contact_id
		WHERE c.tenant_id = $1 AND ct.tag_id = $2
	`, tenantID, tagID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contacts by tag: %w", err)
	}
	return n, nil
}
