package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

// LedgerRepository handles audit ledger database operations. The
// event_offset BIGSERIAL column supplies the global monotonic offset; rows
// are never updated or deleted.
type LedgerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *sql.DB, logger *slog.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

// Append inserts the event and returns the offset the database assigned.
func (r *LedgerRepository) Append(ctx context.Context, event *models.AuditEvent) (int64, error) {
	payload, err := marshalJSONB(event.Payload)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO ledger_events (recorded_at, case_id, run_id, node_id, kind, actor, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING event_offset
	`

	err = r.db.QueryRowContext(ctx, query,
		event.Timestamp, event.CaseID, event.RunID, event.NodeID,
		event.Kind, event.Actor, payload).Scan(&event.Offset)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger event: %w", err)
	}

	return event.Offset, nil
}

// Read returns events for a case with offset greater than sinceOffset, in
// offset order. limit <= 0 means no limit.
func (r *LedgerRepository) Read(ctx context.Context, caseID string, sinceOffset int64, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT event_offset, recorded_at, case_id, run_id, node_id, kind, actor, payload
		FROM ledger_events
		WHERE case_id = $1 AND event_offset > $2
		ORDER BY event_offset
	`
	args := []any{caseID, sinceOffset}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

// ReadRun returns every event recorded for a run, in offset order.
func (r *LedgerRepository) ReadRun(ctx context.Context, runID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT event_offset, recorded_at, case_id, run_id, node_id, kind, actor, payload
		FROM ledger_events
		WHERE run_id = $1
		ORDER BY event_offset
	`

	return r.query(ctx, query, runID)
}

func (r *LedgerRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	events := make([]*models.AuditEvent, 0)

	for rows.Next() {
		var (
			event   models.AuditEvent
			payload []byte
		)

		err := rows.Scan(&event.Offset, &event.Timestamp, &event.CaseID,
			&event.RunID, &event.NodeID, &event.Kind, &event.Actor, &payload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}

		if err := unmarshalJSONB(payload, &event.Payload); err != nil {
			return nil, err
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger events: %w", err)
	}

	return events, nil
}
