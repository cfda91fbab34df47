// Package persistence provides the data storage abstraction for playbooks,
// runs, cases, and the audit ledger.
package persistence

import (
	"context"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

// Persistence is the storage provider contract. Definitions, runs, cases
// and audit events must survive process restart.
type Persistence interface {
	Playbooks() PlaybookRepository
	Runs() RunRepository
	Cases() CaseRepository
	Ledger() LedgerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// PlaybookRepository stores versioned playbook definitions. A stored
// version is immutable; changes require a version bump.
type PlaybookRepository interface {
	Save(ctx context.Context, def *models.PlaybookDefinition) error
	GetByVersion(ctx context.Context, id string, version int) (*models.PlaybookDefinition, error)
	GetLatest(ctx context.Context, id string) (*models.PlaybookDefinition, error)
	List(ctx context.Context) ([]*models.PlaybookDefinition, error)
}

// RunRepository stores run state. Saves are whole-document checkpoints; the
// engine persists after every node completion so recovery can resume from
// the last committed bindings.
type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByCase(ctx context.Context, caseID string) ([]*models.Run, error)

	// ListUnfinished returns runs whose status is not terminal, used by the
	// startup reconciliation and the lock recovery sweep.
	ListUnfinished(ctx context.Context) ([]*models.Run, error)
}

// ListCasesOptions filters case listings.
type ListCasesOptions struct {
	Status   *models.CaseStatus
	Severity *models.Severity
	Limit    int
}

// CaseRepository stores security cases.
type CaseRepository interface {
	Save(ctx context.Context, c *models.Case) error
	GetByID(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, opts ListCasesOptions) ([]*models.Case, error)

	// CompareAndSwapRemediationLock replaces the case's remediation holder
	// with runID only if the current holder equals expected, and reports
	// whether the swap happened. The check and the write are one atomic
	// step, so concurrent claimants of a free lock see exactly one winner.
	CompareAndSwapRemediationLock(ctx context.Context, caseID, expected, runID string) (bool, error)
}

// LedgerRepository stores the append-only audit trail. Append assigns a
// globally monotonic offset; ledger order is append order, never event
// timestamp. Readers never block writers.
type LedgerRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) (int64, error)

	// Read returns up to limit events for a case with offset > sinceOffset,
	// in append order. limit <= 0 means no limit. A consumer may resume
	// from any previously observed offset without gaps or duplicates.
	Read(ctx context.Context, caseID string, sinceOffset int64, limit int) ([]*models.AuditEvent, error)

	// ReadRun returns the events of one run in append order.
	ReadRun(ctx context.Context, runID string) ([]*models.AuditEvent, error)
}
