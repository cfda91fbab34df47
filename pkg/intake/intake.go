// Package intake connects alert sources to the execution engine. Sources
// emit trigger requests; the dispatcher resolves or creates the target case
// and starts the playbook run.
package intake

import (
	"context"
	"log/slog"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/engine"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

// ActorIntake is recorded on cases and runs created from intake sources.
const ActorIntake = "intake"

// Dispatcher implements protocol.TriggerCallback against the case manager
// and the engine.
type Dispatcher struct {
	logger *slog.Logger
	cases  *cases.Manager
	engine *engine.Engine
}

func NewDispatcher(logger *slog.Logger, caseManager *cases.Manager, eng *engine.Engine) *Dispatcher {
	return &Dispatcher{
		logger: logger.With("module", "intake"),
		cases:  caseManager,
		engine: eng,
	}
}

// Handle resolves the request's case, creating one when the source did not
// name an existing case, and starts the run.
func (d *Dispatcher) Handle(ctx context.Context, req protocol.TriggerRequest) error {
	caseID := req.CaseID

	if caseID == "" {
		title := req.CaseTitle
		if title == "" {
			title = "Alert intake: " + req.PlaybookID
		}

		c, err := d.cases.Create(ctx, title, "", normalizeSeverity(req.Severity), ActorIntake)
		if err != nil {
			return err
		}

		caseID = c.ID
	}

	run, err := d.engine.StartRun(ctx, engine.StartRequest{
		PlaybookID: req.PlaybookID,
		CaseID:     caseID,
		Inputs:     req.Inputs,
		Actor:      ActorIntake,
	})
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Triggered run from intake",
		"playbook_id", req.PlaybookID, "case_id", caseID, "run_id", run.ID)

	return nil
}

// normalizeSeverity maps free-form source severities onto the case model.
// External alert feeds are not trusted to spell ours.
func normalizeSeverity(s string) models.Severity {
	switch models.Severity(s) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return models.Severity(s)
	default:
		return models.SeverityMedium
	}
}
