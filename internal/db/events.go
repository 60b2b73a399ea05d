package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventStore handles database operations for the append-only event log.
type EventStore struct {
	db     *DB
	logger *zap.Logger
}

// NewEventStore creates a new event store.
func NewEventStore(db *DB, logger *zap.Logger) *EventStore {
	return &EventStore{
		db:     db,
		logger: logger,
	}
}

// Append inserts a new unprocessed event.
func (s *EventStore) Append(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO events (id, tenant_id, event_type, contact_id, payload, processed)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(ctx, query,
		event.ID, event.TenantID, event.Type, event.ContactID, event.Payload,
	).Scan(&event.CreatedAt)
	if err != nil {
		s.logger.Error("failed to append event",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
			zap.String("tenant_id", event.TenantID.String()),
		)
		return fmt.Errorf("insert event: %w", err)
	}

	s.logger.Debug("event appended",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
	)

	return nil
}

// ClaimUnprocessed atomically selects up to limit unprocessed events,
// oldest first, and marks them processed before returning them. Processed
// flips false -> true exactly once, here and nowhere else; SKIP LOCKED
// keeps overlapping router passes from claiming the same rows, so no event
// is ever matched twice.
func (s *EventStore) ClaimUnprocessed(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		UPDATE events
		SET processed = TRUE
		WHERE id IN (
			SELECT id FROM events
			WHERE processed = FALSE
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, event_type, contact_id, payload, processed, created_at
	`

	rows, err := s.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		err := rows.Scan(
			&ev.ID,
			&ev.TenantID,
			&ev.Type,
			&ev.ContactID,
			&ev.Payload,
			&ev.Processed,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

// CountUnprocessed returns the current event backlog size.
func (s *EventStore) CountUnprocessed(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM events WHERE processed = FALSE
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed events: %w", err)
	}
	return n, nil
}

// OldestUnprocessedAge returns how long the oldest unprocessed event has
// been waiting, or zero when the backlog is empty.
func (s *EventStore) OldestUnprocessedAge(ctx context.Context) (time.Duration, error) {
	var createdAt *time.Time
	err := s.db.Pool().QueryRow(ctx, `
		SELECT MIN(created_at) FROM events WHERE processed = FALSE
	`).Scan(&createdAt)
	if err != nil {
		return 0, fmt.Errorf("oldest unprocessed event: %w", err)
	}
	if createdAt == nil {
		return 0, nil
	}
	return time.Since(*createdAt), nil
}
