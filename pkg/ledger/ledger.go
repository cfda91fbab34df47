// Package ledger records and reads the append-only audit trail. Every
// observable engine and case action lands here exactly once, ordered by the
// globally monotonic offset the store assigns at append time.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

// Payload keys shared between writers and replay.
const (
	PayloadOutputs = "outputs"
	PayloadOutcome = "outcome"
	PayloadAttempt = "attempt"
	PayloadError   = "error"
	PayloadKind    = "error_kind"
	PayloadFrom    = "from"
	PayloadTo      = "to"
	PayloadNodes   = "nodes"
	PayloadReason  = "reason"
)

// Ledger serializes audit events into the backing repository.
type Ledger struct {
	repo   persistence.LedgerRepository
	logger *slog.Logger
}

func NewLedger(logger *slog.Logger, repo persistence.LedgerRepository) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.With("module", "ledger"),
	}
}

// Record appends one event. The timestamp and actor default to now and the
// engine when unset. The assigned offset is written back into the event.
func (l *Ledger) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if event.Actor == "" {
		event.Actor = models.ActorEngine
	}

	if _, err := l.repo.Append(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "Failed to append audit event",
			"kind", event.Kind, "case_id", event.CaseID, "run_id", event.RunID, "error", err)

		return err
	}

	return nil
}

// RunEvent records an event scoped to a run.
func (l *Ledger) RunEvent(ctx context.Context, caseID, runID string, kind models.AuditKind, payload map[string]any) error {
	return l.Record(ctx, &models.AuditEvent{
		CaseID:  caseID,
		RunID:   runID,
		Kind:    kind,
		Payload: payload,
	})
}

// NodeEvent records an event scoped to a node within a run.
func (l *Ledger) NodeEvent(ctx context.Context, caseID, runID, nodeID string, kind models.AuditKind, payload map[string]any) error {
	return l.Record(ctx, &models.AuditEvent{
		CaseID:  caseID,
		RunID:   runID,
		NodeID:  nodeID,
		Kind:    kind,
		Payload: payload,
	})
}

// CaseEvent records an analyst or system action against a case.
func (l *Ledger) CaseEvent(ctx context.Context, caseID, actor string, kind models.AuditKind, payload map[string]any) error {
	return l.Record(ctx, &models.AuditEvent{
		CaseID:  caseID,
		Actor:   actor,
		Kind:    kind,
		Payload: payload,
	})
}

// Read returns events for a case after sinceOffset, in ledger order.
func (l *Ledger) Read(ctx context.Context, caseID string, sinceOffset int64, limit int) ([]*models.AuditEvent, error) {
	return l.repo.Read(ctx, caseID, sinceOffset, limit)
}

// ReadRun returns the full trail of one run.
func (l *Ledger) ReadRun(ctx context.Context, runID string) ([]*models.AuditEvent, error) {
	return l.repo.ReadRun(ctx, runID)
}

// Reader is a restartable cursor over a case's events. Offset survives as a
// plain int64, so a consumer can persist it and resume later without gaps
// or duplicates.
type Reader struct {
	ledger *Ledger
	caseID string
	offset int64
}

// NewReader creates a cursor starting after sinceOffset. Zero starts from
// the beginning.
func (l *Ledger) NewReader(caseID string, sinceOffset int64) *Reader {
	return &Reader{ledger: l, caseID: caseID, offset: sinceOffset}
}

// Next returns the next batch of at most limit events and advances the
// cursor. An empty batch means the reader is caught up.
func (r *Reader) Next(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	events, err := r.ledger.Read(ctx, r.caseID, r.offset, limit)
	if err != nil {
		return nil, err
	}

	if len(events) > 0 {
		r.offset = events[len(events)-1].Offset
	}

	return events, nil
}

// Offset reports the cursor position for checkpointing.
func (r *Reader) Offset() int64 {
	return r.offset
}
