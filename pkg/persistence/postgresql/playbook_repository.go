package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// PlaybookRepository handles playbook definition database operations.
type PlaybookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPlaybookRepository creates a new playbook repository.
func NewPlaybookRepository(db *sql.DB, logger *slog.Logger) *PlaybookRepository {
	return &PlaybookRepository{db: db, logger: logger}
}

const playbookColumns = `
			id
		  , version
		  , name
		  , description
		  , remediation
		  , inputs
		  , start_node
		  , nodes
		  , edges
		  , metadata
		  , created_at
`

// Save stores a playbook version. Versions are immutable; saving an
// existing (id, version) pair is rejected by the primary key.
func (r *PlaybookRepository) Save(ctx context.Context, def *models.PlaybookDefinition) error {
	inputs, err := marshalJSONB(def.Inputs)
	if err != nil {
		return err
	}

	nodes, err := marshalJSONB(def.Nodes)
	if err != nil {
		return err
	}

	edges, err := marshalJSONB(def.Edges)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(def.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO playbooks (id, version, name, description, remediation, inputs, start_node, nodes, edges, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID, def.Version, def.Name, def.Description, def.Remediation,
		inputs, def.Start, nodes, edges, metadata, def.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.ErrPlaybookVersionExists
		}

		return fmt.Errorf("failed to save playbook %s: %w", def.CacheKey(), err)
	}

	return nil
}

// uniqueViolation is the postgres error code raised when the playbooks
// primary key rejects a duplicate (id, version) pair.
const uniqueViolation = pq.ErrorCode("23505")

func (r *PlaybookRepository) GetByVersion(ctx context.Context, id string, version int) (*models.PlaybookDefinition, error) {
	query := `SELECT ` + playbookColumns + ` FROM playbooks WHERE id = $1 AND version = $2`

	return r.scanPlaybook(r.db.QueryRowContext(ctx, query, id, version))
}

func (r *PlaybookRepository) GetLatest(ctx context.Context, id string) (*models.PlaybookDefinition, error) {
	query := `SELECT ` + playbookColumns + ` FROM playbooks WHERE id = $1 ORDER BY version DESC LIMIT 1`

	return r.scanPlaybook(r.db.QueryRowContext(ctx, query, id))
}

// List returns the latest version of every playbook.
func (r *PlaybookRepository) List(ctx context.Context) ([]*models.PlaybookDefinition, error) {
	query := `
		SELECT DISTINCT ON (id) ` + playbookColumns + `
		FROM playbooks
		ORDER BY id, version DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query playbooks: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	defs := make([]*models.PlaybookDefinition, 0)

	for rows.Next() {
		def, err := r.scanPlaybook(rows)
		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playbooks: %w", err)
	}

	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PlaybookRepository) scanPlaybook(row rowScanner) (*models.PlaybookDefinition, error) {
	var (
		def      models.PlaybookDefinition
		inputs   []byte
		nodes    []byte
		edges    []byte
		metadata []byte
	)

	err := row.Scan(&def.ID, &def.Version, &def.Name, &def.Description, &def.Remediation,
		&inputs, &def.Start, &nodes, &edges, &metadata, &def.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPlaybookNotFound
		}

		return nil, fmt.Errorf("failed to scan playbook: %w", err)
	}

	if err := unmarshalJSONB(inputs, &def.Inputs); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(nodes, &def.Nodes); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(edges, &def.Edges); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(metadata, &def.Metadata); err != nil {
		return nil, err
	}

	return &def, nil
}
