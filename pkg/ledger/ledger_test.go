package ledger_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence/file"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return ledger.NewLedger(logger, p.Ledger())
}

func TestLedger_RecordDefaultsActorAndTimestamp(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	event := &models.AuditEvent{
		CaseID: "case-1",
		RunID:  "run-1",
		Kind:   models.AuditRunStarted,
	}
	require.NoError(t, l.Record(ctx, event))

	assert.Equal(t, models.ActorEngine, event.Actor)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, int64(1), event.Offset)
}

func TestLedger_ReaderResumesWithoutGaps(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RunEvent(ctx, "case-1", "run-1", models.AuditNodeSucceeded, nil))
	}

	reader := l.NewReader("case-1", 0)

	first, err := reader.Next(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// A new reader at the checkpointed offset sees the remaining events.
	resumed := l.NewReader("case-1", reader.Offset())

	rest, err := resumed.Next(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, first[1].Offset+1, rest[0].Offset)

	empty, err := resumed.Next(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReplayRun_ReconstructsBindingsAndStatus(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RunEvent(ctx, "case-1", "run-1", models.AuditRunStarted, map[string]any{
		ledger.PayloadOutputs: map[string]any{"alert.sender": "mailer@example.com"},
	}))
	require.NoError(t, l.NodeEvent(ctx, "case-1", "run-1", "check-sender", models.AuditNodeDispatched, nil))
	require.NoError(t, l.NodeEvent(ctx, "case-1", "run-1", "check-sender", models.AuditNodeSucceeded, map[string]any{
		ledger.PayloadOutputs: map[string]any{"reputation.known_bad": true},
	}))
	require.NoError(t, l.NodeEvent(ctx, "case-1", "run-1", "is-known-bad", models.AuditConditionEvaluated, map[string]any{
		ledger.PayloadOutcome: "true",
	}))
	require.NoError(t, l.RunEvent(ctx, "case-1", "run-1", models.AuditRunCompleted, nil))

	// Interleaved events from another run must not leak in.
	require.NoError(t, l.RunEvent(ctx, "case-1", "run-2", models.AuditRunFailed, map[string]any{
		ledger.PayloadError: "boom",
	}))

	events, err := l.Read(ctx, "case-1", 0, 0)
	require.NoError(t, err)

	replay := ledger.ReplayRun("run-1", events)
	assert.Equal(t, models.RunStatusCompleted, replay.Status)
	assert.Equal(t, "case-1", replay.CaseID)
	assert.Equal(t, true, replay.Bindings["reputation.known_bad"])
	assert.Equal(t, "mailer@example.com", replay.Bindings["alert.sender"])
	assert.Equal(t, models.EdgeSuccess, replay.Outcomes["check-sender"])
	assert.Equal(t, models.EdgeTrue, replay.Outcomes["is-known-bad"])
	assert.Equal(t, 1, replay.Attempts["check-sender"])
	assert.Empty(t, replay.Error)

	failed := ledger.ReplayRun("run-2", events)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}

func TestReplayRun_CountsRetries(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, l.NodeEvent(ctx, "case-1", "run-1", "lookup", models.AuditNodeDispatched, map[string]any{
			ledger.PayloadAttempt: attempt,
		}))

		if attempt < 3 {
			require.NoError(t, l.NodeEvent(ctx, "case-1", "run-1", "lookup", models.AuditNodeAttemptFailed, map[string]any{
				ledger.PayloadAttempt: attempt,
			}))
		}
	}

	require.NoError(t, l.NodeEvent(ctx, "case-1", "run-1", "lookup", models.AuditNodeSucceeded, nil))

	events, err := l.ReadRun(ctx, "run-1")
	require.NoError(t, err)

	replay := ledger.ReplayRun("run-1", events)
	assert.Equal(t, 3, replay.Attempts["lookup"])
	assert.Equal(t, models.EdgeSuccess, replay.Outcomes["lookup"])
}
