package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrAutomationNotFound is returned when no automation row matches.
var ErrAutomationNotFound = errors.New("automation not found")

// AutomationStore reads automation definitions. The CRUD layer owns the
// lifecycle of these rows; the engine consumes them read-mostly, plus the
// delete path that cancels in-flight runs.
type AutomationStore struct {
	db     *DB
	logger *zap.Logger
}

// NewAutomationStore creates a new automation store.
func NewAutomationStore(db *DB, logger *zap.Logger) *AutomationStore {
	return &AutomationStore{
		db:     db,
		logger: logger,
	}
}

const automationColumns = `
	id, tenant_id, name, status, trigger_type, trigger_config, steps,
	allow_re_entry, re_entry_delay, created_at, updated_at
`

// Get retrieves an automation by id.
func (s *AutomationStore) Get(ctx context.Context, id uuid.UUID) (*Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

	row := s.db.Pool().QueryRow(ctx, query, id)
	a, err := scanAutomation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query automation: %w", err)
	}
	return a, nil
}

// GetActive retrieves the tenant's active automations with the given
// trigger type.
func (s *AutomationStore) GetActive(ctx context.Context, tenantID uuid.UUID, triggerType string) ([]*Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE tenant_id = $1 AND status = $2 AND trigger_type = $3
		ORDER BY created_at ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, tenantID, AutomationStatusActive, triggerType)
	if err != nil {
		return nil, fmt.Errorf("query active automations: %w", err)
	}
	defer rows.Close()

	var automations []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return automations, nil
}

// Delete removes an automation row. Callers must cancel its runs first via
// RunStore.CancelForAutomation so late step jobs land on cancelled runs.
func (s *AutomationStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Pool().Exec(ctx, `DELETE FROM automations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAutomationNotFound
	}

	s.logger.Info("automation deleted", zap.String("automation_id", id.String()))
	return nil
}

func scanAutomation(row pgx.Row) (*Automation, error) {
	var a Automation
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Name,
		&a.Status,
		&a.TriggerType,
		&a.TriggerConfig,
		&a.Steps,
		&a.AllowReEntry,
		&a.ReEntryDelay,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
