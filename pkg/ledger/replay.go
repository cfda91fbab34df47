package ledger

import (
	"github.com/phalanx-soar/phalanx/pkg/models"
)

// RunReplay is run state reconstructed purely from the audit trail. It is
// the ground truth for dispute resolution: if the replayed state disagrees
// with the stored run document, the ledger wins.
type RunReplay struct {
	RunID    string
	CaseID   string
	Status   models.RunStatus
	Bindings map[string]any

	// Outcomes maps node id to the edge label its last attempt produced.
	Outcomes map[string]models.EdgeLabel

	// Attempts counts recorded dispatches per node.
	Attempts map[string]int

	Error string
}

// ReplayRun folds a run's events, in ledger order, back into run state.
// Events of other runs are ignored, so a case-wide slice can be passed
// directly.
func ReplayRun(runID string, events []*models.AuditEvent) *RunReplay {
	replay := &RunReplay{
		RunID:    runID,
		Bindings: map[string]any{},
		Outcomes: map[string]models.EdgeLabel{},
		Attempts: map[string]int{},
	}

	for _, event := range events {
		if event.RunID != runID {
			continue
		}

		replay.CaseID = event.CaseID

		switch event.Kind {
		case models.AuditRunStarted:
			replay.Status = models.RunStatusRunning
			replay.bind(event.Payload[PayloadOutputs])
		case models.AuditRunCompleted:
			replay.Status = models.RunStatusCompleted
		case models.AuditRunFailed:
			replay.Status = models.RunStatusFailed
			replay.Error, _ = event.Payload[PayloadError].(string)
		case models.AuditRunCancelled:
			replay.Status = models.RunStatusCancelled
		case models.AuditRunSuspended:
			replay.Status = models.RunStatusSuspended
		case models.AuditRunResumed:
			replay.Status = models.RunStatusRunning
		case models.AuditNodeDispatched:
			replay.Attempts[event.NodeID]++
		case models.AuditNodeSucceeded:
			replay.Outcomes[event.NodeID] = models.EdgeSuccess
			replay.bind(event.Payload[PayloadOutputs])
		case models.AuditNodeFailed:
			replay.Outcomes[event.NodeID] = models.EdgeFailure
		case models.AuditConditionEvaluated:
			if outcome, ok := event.Payload[PayloadOutcome].(string); ok {
				replay.Outcomes[event.NodeID] = models.EdgeLabel(outcome)
			}
		}
	}

	return replay
}

func (r *RunReplay) bind(outputs any) {
	values, ok := outputs.(map[string]any)
	if !ok {
		return
	}

	// First writer wins, matching the engine's binding rule.
	for name, value := range values {
		if _, exists := r.Bindings[name]; !exists {
			r.Bindings[name] = value
		}
	}
}
