package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrDuplicateActiveRun is returned by Create when the contact already has
// a running or waiting run for the automation. The partial unique index
// reports it when two writers race past the eligibility check.
var ErrDuplicateActiveRun = errors.New("contact already has an active run for automation")

// RunStore handles database operations for automation runs.
type RunStore struct {
	db     *DB
	logger *zap.Logger
}

// NewRunStore creates a new run store.
func NewRunStore(db *DB, logger *zap.Logger) *RunStore {
	return &RunStore{
		db:     db,
		logger: logger,
	}
}

const runColumns = `
	id, automation_id, contact_id, tenant_id, status, trigger_data,
	current_step, steps_taken, created_at, completed_at
`

// Create inserts a new run at step 0 in status running. A unique violation
// on the active-run index maps to ErrDuplicateActiveRun.
func (s *RunStore) Create(ctx context.Context, run *AutomationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if len(run.TriggerData) == 0 {
		run.TriggerData = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO automation_runs (
			id, automation_id, contact_id, tenant_id, status, trigger_data, current_step
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(ctx, query,
		run.ID, run.AutomationID, run.ContactID, run.TenantID,
		run.Status, run.TriggerData, run.CurrentStep,
	).Scan(&run.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActiveRun
		}
		s.logger.Error("failed to create automation run",
			zap.Error(err),
			zap.String("automation_id", run.AutomationID.String()),
		)
		return fmt.Errorf("insert run: %w", err)
	}

	s.logger.Info("automation run created",
		zap.String("run_id", run.ID.String()),
		zap.String("automation_id", run.AutomationID.String()),
	)

	return nil
}

// Get retrieves a run by id.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*AutomationRun, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE id = $1`

	var run AutomationRun
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.AutomationID,
		&run.ContactID,
		&run.TenantID,
		&run.Status,
		&run.TriggerData,
		&run.CurrentStep,
		&run.StepsTaken,
		&run.CreatedAt,
		&run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	return &run, nil
}

// Advance moves the run to a new current step, bumps the executed-step
// counter, and sets the status (running or waiting).
func (s *RunStore) Advance(ctx context.Context, id uuid.UUID, currentStep int, status string) error {
	query := `
		UPDATE automation_runs
		SET current_step = $1, status = $2, steps_taken = steps_taken + 1
		WHERE id = $3
	`
	_, err := s.db.Pool().Exec(ctx, query, currentStep, status, id)
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	return nil
}

// SetStatus updates only the run status, e.g. waiting -> running on resume.
func (s *RunStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE automation_runs SET status = $1 WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	return nil
}

// Complete marks a run completed.
func (s *RunStore) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE automation_runs
		SET status = $1, completed_at = NOW()
		WHERE id = $2
	`, RunStatusCompleted, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Cancel marks a single run cancelled.
func (s *RunStore) Cancel(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE automation_runs
		SET status = $1, completed_at = NOW()
		WHERE id = $2
	`, RunStatusCancelled, id)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// CancelForAutomation cancels every active run of an automation. Called when
// the automation is deleted; late step jobs for those runs become no-ops.
func (s *RunStore) CancelForAutomation(ctx context.Context, automationID uuid.UUID) (int64, error) {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE automation_runs
		SET status = $1, completed_at = NOW()
		WHERE automation_id = $2 AND status IN ($3, $4)
	`, RunStatusCancelled, automationID, RunStatusRunning, RunStatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("cancel runs for automation: %w", err)
	}

	cancelled := result.RowsAffected()
	if cancelled > 0 {
		s.logger.Info("cancelled in-flight runs",
			zap.String("automation_id", automationID.String()),
			zap.Int64("count", cancelled),
		)
	}
	return cancelled, nil
}

// HasActiveRun reports whether the contact currently has a running or
// waiting run for the automation.
func (s *RunStore) HasActiveRun(ctx context.Context, automationID, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_runs
			WHERE automation_id = $1 AND contact_id = $2 AND status IN ($3, $4)
		)
	`, automationID, contactID, RunStatusRunning, RunStatusWaiting).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active run: %w", err)
	}
	return exists, nil
}

// HasAnyRun reports whether the contact has ever had a run for the
// automation, in any status.
func (s *RunStore) HasAnyRun(ctx context.Context, automationID, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_runs
			WHERE automation_id = $1 AND contact_id = $2
		)
	`, automationID, contactID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check any run: %w", err)
	}
	return exists, nil
}

// LastCompletedAt returns when the contact's most recent completed run for
// the automation finished, or nil when there is none.
func (s *RunStore) LastCompletedAt(ctx context.Context, automationID, contactID uuid.UUID) (*time.Time, error) {
	var completedAt *time.Time
	err := s.db.Pool().QueryRow(ctx, `
		SELECT MAX(completed_at) FROM automation_runs
		WHERE automation_id = $1 AND contact_id = $2 AND status = $3
	`, automationID, contactID, RunStatusCompleted).Scan(&completedAt)
	if err != nil {
		return nil, fmt.Errorf("query last completed run: %w", err)
	}
	return completedAt, nil
}
