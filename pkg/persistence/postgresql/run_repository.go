package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// RunRepository handles run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
			id
		  , playbook_id
		  , playbook_version
		  , case_id
		  , status
		  , remediation
		  , bindings
		  , executions
		  , error
		  , started_at
		  , ended_at
`

// Save upserts the whole run document. The engine calls this after every
// node completion, so a crash loses at most the node in flight.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	bindings, err := marshalJSONB(run.Bindings)
	if err != nil {
		return err
	}

	executions, err := marshalJSONB(run.Executions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, playbook_id, playbook_version, case_id, status, remediation, bindings, executions, error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			bindings = EXCLUDED.bindings,
			executions = EXCLUDED.executions,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.PlaybookID, run.PlaybookVersion, run.CaseID, run.Status,
		run.Remediation, bindings, executions, run.Error, run.StartedAt, run.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, err
	}

	return run, nil
}

func (r *RunRepository) ListByCase(ctx context.Context, caseID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE case_id = $1 ORDER BY started_at`

	return r.list(ctx, query, caseID)
}

// ListUnfinished returns runs left in a non-terminal status.
func (r *RunRepository) ListUnfinished(ctx context.Context) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE status NOT IN ('completed', 'failed', 'cancelled') ORDER BY started_at`

	return r.list(ctx, query)
}

func (r *RunRepository) list(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanRun(row rowScanner) (*models.Run, error) {
	var (
		run        models.Run
		bindings   []byte
		executions []byte
		endedAt    sql.NullTime
	)

	err := row.Scan(&run.ID, &run.PlaybookID, &run.PlaybookVersion, &run.CaseID,
		&run.Status, &run.Remediation, &bindings, &executions, &run.Error,
		&run.StartedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if err := unmarshalJSONB(bindings, &run.Bindings); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(executions, &run.Executions); err != nil {
		return nil, err
	}

	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}

	return &run, nil
}
