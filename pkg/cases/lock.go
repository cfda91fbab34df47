package cases

import (
	"context"
	"errors"

	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// AcquireRemediationLock claims the case's remediation lock for a run. At
// most one remediation run may be active per case; the claim is a single
// compare-and-swap against a free lock, so concurrent claimants see exactly
// one winner and the rest fail fast with ErrLockConflict plus a recorded
// lock.conflict. Re-acquiring by the current holder is a no-op.
func (m *Manager) AcquireRemediationLock(ctx context.Context, caseID, runID string) error {
	swapped, err := m.cases.CompareAndSwapRemediationLock(ctx, caseID, "", runID)
	if err != nil {
		return err
	}

	if !swapped {
		c, err := m.cases.GetByID(ctx, caseID)
		if err != nil {
			return err
		}

		if c.RemediationRunID == runID {
			return nil
		}

		if err := m.ledger.Record(ctx, &models.AuditEvent{
			CaseID: caseID,
			RunID:  runID,
			Kind:   models.AuditLockConflict,
			Payload: map[string]any{
				"holder": c.RemediationRunID,
			},
		}); err != nil {
			return err
		}

		return ErrLockConflict
	}

	m.logger.InfoContext(ctx, "Remediation lock acquired", "case_id", caseID, "run_id", runID)

	return m.ledger.RunEvent(ctx, caseID, runID, models.AuditLockAcquired, nil)
}

// ReleaseRemediationLock releases the lock held by a run. Releasing an
// already-free lock is a no-op so terminal paths can release
// unconditionally; releasing someone else's lock is an error.
func (m *Manager) ReleaseRemediationLock(ctx context.Context, caseID, runID string) error {
	swapped, err := m.cases.CompareAndSwapRemediationLock(ctx, caseID, runID, "")
	if err != nil {
		return err
	}

	if !swapped {
		c, err := m.cases.GetByID(ctx, caseID)
		if err != nil {
			return err
		}

		if c.RemediationRunID == "" {
			return nil
		}

		return ErrLockNotHeld
	}

	m.logger.InfoContext(ctx, "Remediation lock released", "case_id", caseID, "run_id", runID)

	return m.ledger.RunEvent(ctx, caseID, runID, models.AuditLockReleased, nil)
}

// RecoverLocks releases remediation locks whose holding run is terminal or
// gone. Run at startup, after the engine has reconciled interrupted runs,
// so a crash between run completion and lock release cannot leave a case
// locked forever.
func (m *Manager) RecoverLocks(ctx context.Context) error {
	held, err := m.cases.List(ctx, persistence.ListCasesOptions{})
	if err != nil {
		return err
	}

	for _, c := range held {
		if c.RemediationRunID == "" {
			continue
		}

		run, err := m.runs.GetByID(ctx, c.RemediationRunID)
		if err != nil && !errors.Is(err, persistence.ErrRunNotFound) {
			return err
		}

		if run != nil && !run.Status.Terminal() {
			continue
		}

		m.logger.WarnContext(ctx, "Releasing orphaned remediation lock",
			"case_id", c.ID, "run_id", c.RemediationRunID)

		runID := c.RemediationRunID

		swapped, err := m.cases.CompareAndSwapRemediationLock(ctx, c.ID, runID, "")
		if err != nil {
			return err
		}

		if !swapped {
			// The holder changed under us; leave it to the next sweep.
			continue
		}

		if err := m.ledger.RunEvent(ctx, c.ID, runID, models.AuditLockReleased, map[string]any{
			ledger.PayloadReason: "recovery",
		}); err != nil {
			return err
		}
	}

	return nil
}
