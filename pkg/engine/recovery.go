package engine

import (
	"context"

	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
)

// Recover reconciles runs interrupted by a crash. Runs stored as running
// resume from their last committed checkpoint; nodes that were in flight
// when the process died have no recorded outcome and dispatch again, which
// is where the at-least-once delivery guarantee comes from. Suspended runs
// stay parked until resumed explicitly. Call once at startup, then
// cases.Manager.RecoverLocks.
func (e *Engine) Recover(ctx context.Context) error {
	unfinished, err := e.persistence.Runs().ListUnfinished(ctx)
	if err != nil {
		return err
	}

	for _, run := range unfinished {
		if run.Status != models.RunStatusRunning {
			continue
		}

		if err := e.resume(ctx, run, "crash recovery"); err != nil {
			// One unresumable run, say its playbook version is gone or no
			// longer compiles, must not stall the rest of the sweep. The run
			// fails; the others still resume.
			e.logger.ErrorContext(ctx, "Failing unresumable run",
				"run_id", run.ID, "error", err)

			if err := e.finalizeDetached(ctx, run, models.RunStatusFailed, "crash recovery: "+err.Error()); err != nil {
				return err
			}
		}
	}

	return nil
}

// Resume restarts a suspended run after its storage fault cleared.
func (e *Engine) Resume(ctx context.Context, runID string) (*models.Run, error) {
	run, err := e.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusSuspended {
		return nil, ErrNotSuspended
	}

	run.Status = models.RunStatusRunning
	if err := e.persistence.Runs().Save(ctx, run); err != nil {
		return nil, err
	}

	if err := e.resume(ctx, run, "manual resume"); err != nil {
		return nil, err
	}

	return run, nil
}

func (e *Engine) resume(ctx context.Context, run *models.Run, reason string) error {
	def, err := e.persistence.Playbooks().GetByVersion(ctx, run.PlaybookID, run.PlaybookVersion)
	if err != nil {
		return err
	}

	graph, err := e.compiler.Compile(def)
	if err != nil {
		return err
	}

	// The checkpointed executions carry each settled node's outcome; the
	// coordinator rebuilds frontier and prune state from them.
	restored := make(map[string]models.EdgeLabel)
	for _, execution := range run.Executions {
		if execution.Outcome != "" {
			restored[execution.NodeID] = execution.Outcome
		}
	}

	if err := e.ledger.RunEvent(ctx, run.CaseID, run.ID, models.AuditRunResumed, map[string]any{
		ledger.PayloadReason: reason,
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Resuming run",
		"run_id", run.ID, "reason", reason, "settled_nodes", len(restored))

	e.spawn(run, graph, restored)

	return nil
}
