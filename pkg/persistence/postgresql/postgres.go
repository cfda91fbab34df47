// Package postgresql provides PostgreSQL persistence for playbooks, runs,
// cases, and the audit ledger.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/phalanx-soar/phalanx/pkg/persistence"
	"github.com/phalanx-soar/phalanx/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	playbookRepo *PlaybookRepository
	runRepo      *RunRepository
	caseRepo     *CaseRepository
	ledgerRepo   *LedgerRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		playbookRepo: NewPlaybookRepository(database, logger),
		runRepo:      NewRunRepository(database, logger),
		caseRepo:     NewCaseRepository(database, logger),
		ledgerRepo:   NewLedgerRepository(database, logger),
	}, nil
}

func (p *Persistence) Playbooks() persistence.PlaybookRepository {
	return p.playbookRepo
}

func (p *Persistence) Runs() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) Cases() persistence.CaseRepository {
	return p.caseRepo
}

func (p *Persistence) Ledger() persistence.LedgerRepository {
	return p.ledgerRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
