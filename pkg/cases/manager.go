// Package cases manages the security case lifecycle: creation, status
// transitions, analyst annotations, and the per-case remediation lock.
package cases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// Manager owns all case mutation. Engine and API layers never write a case
// directly; routing every change through here keeps the transition table
// and the audit trail authoritative.
type Manager struct {
	cases    persistence.CaseRepository
	runs     persistence.RunRepository
	ledger   *ledger.Ledger
	logger   *slog.Logger
	validate *validator.Validate
}

func NewManager(logger *slog.Logger, p persistence.Persistence, l *ledger.Ledger) *Manager {
	return &Manager{
		cases:    p.Cases(),
		runs:     p.Runs(),
		ledger:   l,
		logger:   logger.With("module", "cases"),
		validate: validator.New(),
	}
}

// Create opens a new case and records case.created.
func (m *Manager) Create(ctx context.Context, title, description string, severity models.Severity, actor string) (*models.Case, error) {
	now := time.Now().UTC()

	c := &models.Case{
		ID:          "case-" + uuid.New().String()[:8],
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      models.CaseStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.validate.Struct(c); err != nil {
		return nil, fmt.Errorf("invalid case: %w", err)
	}

	if err := m.cases.Save(ctx, c); err != nil {
		return nil, err
	}

	if err := m.ledger.CaseEvent(ctx, c.ID, actor, models.AuditCaseCreated, map[string]any{
		"title":    c.Title,
		"severity": string(c.Severity),
	}); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Case created", "case_id", c.ID, "severity", c.Severity)

	return c, nil
}

// Get returns a case by id.
func (m *Manager) Get(ctx context.Context, caseID string) (*models.Case, error) {
	return m.cases.GetByID(ctx, caseID)
}

// List returns cases matching the filter.
func (m *Manager) List(ctx context.Context, opts persistence.ListCasesOptions) ([]*models.Case, error) {
	return m.cases.List(ctx, opts)
}

// Transition moves a case to a new status. Engine-driven moves follow the
// transition table; a human actor may additionally force any case to Closed
// or Reopened. Illegal moves return a TransitionError and leave the case
// untouched. Every applied transition records exactly one case.transitioned
// event.
func (m *Manager) Transition(ctx context.Context, caseID string, to models.CaseStatus, actor string) (*models.Case, error) {
	c, err := m.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	from := c.Status
	if !models.CanTransition(from, to) {
		override := actor != models.ActorEngine && models.AnalystOverride(from, to)
		if !override {
			return nil, &TransitionError{CaseID: caseID, From: from, To: to}
		}
	}

	now := time.Now().UTC()
	c.Status = to
	c.UpdatedAt = now

	switch to {
	case models.CaseStatusClosed:
		c.ClosedAt = &now
	case models.CaseStatusReopened:
		c.ClosedAt = nil
	}

	if err := m.cases.Save(ctx, c); err != nil {
		return nil, err
	}

	if err := m.ledger.CaseEvent(ctx, caseID, actor, models.AuditCaseTransitioned, map[string]any{
		ledger.PayloadFrom: string(from),
		ledger.PayloadTo:   string(to),
	}); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Case transitioned",
		"case_id", caseID, "from", from, "to", to, "actor", actor)

	return c, nil
}

// Assign sets the case assignee.
func (m *Manager) Assign(ctx context.Context, caseID, assignee, actor string) error {
	return m.update(ctx, caseID, func(c *models.Case) { c.AssignedTo = assignee })
}

// Tag appends tags to the case, skipping duplicates.
func (m *Manager) Tag(ctx context.Context, caseID string, tags ...string) error {
	return m.update(ctx, caseID, func(c *models.Case) {
		for _, tag := range tags {
			exists := false

			for _, have := range c.Tags {
				if have == tag {
					exists = true

					break
				}
			}

			if !exists {
				c.Tags = append(c.Tags, tag)
			}
		}
	})
}

// LinkRun records a run against the case. Idempotent.
func (m *Manager) LinkRun(ctx context.Context, caseID, runID string) error {
	return m.update(ctx, caseID, func(c *models.Case) { c.LinkRun(runID) })
}

// Comment records an analyst note. Comments live only in the ledger; the
// case document stays small.
func (m *Manager) Comment(ctx context.Context, caseID, actor, text string) error {
	if _, err := m.cases.GetByID(ctx, caseID); err != nil {
		return err
	}

	return m.ledger.CaseEvent(ctx, caseID, actor, models.AuditCaseComment, map[string]any{
		"text": text,
	})
}

// AddArtifact attaches an observable to the case and records it.
func (m *Manager) AddArtifact(ctx context.Context, caseID, actor string, artifact *models.Artifact) error {
	artifact.ID = "art-" + uuid.New().String()[:8]
	artifact.AddedAt = time.Now().UTC()

	if err := m.validate.Struct(artifact); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	err := m.update(ctx, caseID, func(c *models.Case) {
		c.Artifacts = append(c.Artifacts, artifact)
	})
	if err != nil {
		return err
	}

	return m.ledger.CaseEvent(ctx, caseID, actor, models.AuditCaseArtifactAdded, map[string]any{
		"artifact_id": artifact.ID,
		"type":        artifact.Type,
		"value":       artifact.Value,
	})
}

func (m *Manager) update(ctx context.Context, caseID string, mutate func(*models.Case)) error {
	c, err := m.cases.GetByID(ctx, caseID)
	if err != nil {
		return err
	}

	mutate(c)
	c.UpdatedAt = time.Now().UTC()

	return m.cases.Save(ctx, c)
}
