package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// CaseRepository handles case database operations.
type CaseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCaseRepository creates a new case repository.
func NewCaseRepository(db *sql.DB, logger *slog.Logger) *CaseRepository {
	return &CaseRepository{db: db, logger: logger}
}

const caseColumns = `
			id
		  , title
		  , description
		  , status
		  , severity
		  , assigned_to
		  , tags
		  , run_ids
		  , remediation_run_id
		  , artifacts
		  , created_at
		  , updated_at
		  , closed_at
`

// Save upserts the whole case document.
func (r *CaseRepository) Save(ctx context.Context, c *models.Case) error {
	tags, err := marshalJSONB(c.Tags)
	if err != nil {
		return err
	}

	runIDs, err := marshalJSONB(c.RunIDs)
	if err != nil {
		return err
	}

	artifacts, err := marshalJSONB(c.Artifacts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cases (id, title, description, status, severity, assigned_to, tags, run_ids, remediation_run_id, artifacts, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			severity = EXCLUDED.severity,
			assigned_to = EXCLUDED.assigned_to,
			tags = EXCLUDED.tags,
			run_ids = EXCLUDED.run_ids,
			remediation_run_id = EXCLUDED.remediation_run_id,
			artifacts = EXCLUDED.artifacts,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.Title, c.Description, c.Status, c.Severity, c.AssignedTo,
		tags, runIDs, c.RemediationRunID, artifacts, c.CreatedAt, c.UpdatedAt, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to save case %s: %w", c.ID, err)
	}

	return nil
}

func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`

	c, err := r.scanCase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCaseNotFound
		}

		return nil, err
	}

	return c, nil
}

// CompareAndSwapRemediationLock relies on a conditional UPDATE so the
// database serializes racing claimants; the row count tells us whether the
// holder still matched when the write landed.
func (r *CaseRepository) CompareAndSwapRemediationLock(ctx context.Context, caseID, expected, runID string) (bool, error) {
	query := `
		UPDATE cases
		SET remediation_run_id = $3, updated_at = NOW()
		WHERE id = $1 AND remediation_run_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, caseID, expected, runID)
	if err != nil {
		return false, fmt.Errorf("failed to swap remediation lock for case %s: %w", caseID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for case %s: %w", caseID, err)
	}

	if affected == 0 {
		// Distinguish a lost race from a missing case.
		if _, err := r.GetByID(ctx, caseID); err != nil {
			return false, err
		}

		return false, nil
	}

	return true, nil
}

func (r *CaseRepository) List(ctx context.Context, opts persistence.ListCasesOptions) ([]*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases`
	args := []any{}
	where := ""

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where = " WHERE status = $" + strconv.Itoa(len(args))
	}

	if opts.Severity != nil {
		args = append(args, *opts.Severity)

		clause := " WHERE"
		if where != "" {
			clause = " AND"
		}

		where += clause + " severity = $" + strconv.Itoa(len(args))
	}

	query += where + " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	cases := make([]*models.Case, 0)

	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}

		cases = append(cases, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cases: %w", err)
	}

	return cases, nil
}

func (r *CaseRepository) scanCase(row rowScanner) (*models.Case, error) {
	var (
		c         models.Case
		tags      []byte
		runIDs    []byte
		artifacts []byte
		closedAt  sql.NullTime
	)

	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Status, &c.Severity,
		&c.AssignedTo, &tags, &runIDs, &c.RemediationRunID, &artifacts,
		&c.CreatedAt, &c.UpdatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan case: %w", err)
	}

	if err := unmarshalJSONB(tags, &c.Tags); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(runIDs, &c.RunIDs); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(artifacts, &c.Artifacts); err != nil {
		return nil, err
	}

	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}

	return &c, nil
}
