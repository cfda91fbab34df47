package cases_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
	"github.com/phalanx-soar/phalanx/pkg/persistence/file"
)

func newTestManager(t *testing.T) (*cases.Manager, persistence.Persistence, *ledger.Ledger) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	l := ledger.NewLedger(logger, p.Ledger())

	return cases.NewManager(logger, p, l), p, l
}

func TestManager_CreateRecordsAudit(t *testing.T) {
	m, _, l := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Phishing report", "User reported suspicious email", models.SeverityMedium, "analyst@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusOpen, c.Status)
	assert.NotEmpty(t, c.ID)

	events, err := l.Read(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditCaseCreated, events[0].Kind)
	assert.Equal(t, "analyst@example.com", events[0].Actor)
}

func TestManager_CreateRejectsInvalidSeverity(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Create(context.Background(), "Bad", "", models.Severity("urgent"), "analyst")
	require.Error(t, err)
}

func TestManager_TransitionLegality(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		path  []models.CaseStatus
		ok    bool
	}{
		{
			name:  "full containment lifecycle",
			actor: models.ActorEngine,
			path:  []models.CaseStatus{models.CaseStatusInvestigating, models.CaseStatusContained, models.CaseStatusClosed},
			ok:    true,
		},
		{
			name:  "close directly from open",
			actor: models.ActorEngine,
			path:  []models.CaseStatus{models.CaseStatusClosed},
			ok:    true,
		},
		{
			name:  "reopen then reinvestigate",
			actor: "analyst",
			path:  []models.CaseStatus{models.CaseStatusClosed, models.CaseStatusReopened, models.CaseStatusInvestigating},
			ok:    true,
		},
		{
			name:  "contain without investigating",
			actor: "analyst",
			path:  []models.CaseStatus{models.CaseStatusContained},
			ok:    false,
		},
		{
			name:  "engine cannot reopen a case that is not closed",
			actor: models.ActorEngine,
			path:  []models.CaseStatus{models.CaseStatusReopened},
			ok:    false,
		},
		{
			name:  "analyst forces reopen on an open case",
			actor: "analyst",
			path:  []models.CaseStatus{models.CaseStatusReopened},
			ok:    true,
		},
		{
			name:  "analyst forces close on a contained case",
			actor: "analyst",
			path:  []models.CaseStatus{models.CaseStatusInvestigating, models.CaseStatusContained, models.CaseStatusClosed},
			ok:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t)
			ctx := context.Background()

			c, err := m.Create(ctx, "Case", "", models.SeverityLow, "analyst")
			require.NoError(t, err)

			var lastErr error
			for _, to := range tt.path {
				_, lastErr = m.Transition(ctx, c.ID, to, tt.actor)
				if lastErr != nil {
					break
				}
			}

			if tt.ok {
				require.NoError(t, lastErr)
			} else {
				var terr *cases.TransitionError
				require.ErrorAs(t, lastErr, &terr)
			}
		})
	}
}

func TestManager_AnalystOverrideBeatsTransitionTable(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Case", "", models.SeverityLow, "analyst")
	require.NoError(t, err)

	_, err = m.Transition(ctx, c.ID, models.CaseStatusInvestigating, models.ActorEngine)
	require.NoError(t, err)

	// The transition table has no investigating -> reopened edge, so the
	// engine is rejected. A human forcing the same move succeeds.
	_, err = m.Transition(ctx, c.ID, models.CaseStatusReopened, models.ActorEngine)
	var terr *cases.TransitionError
	require.ErrorAs(t, err, &terr)

	got, err := m.Transition(ctx, c.ID, models.CaseStatusReopened, "analyst")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusReopened, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestManager_IllegalTransitionLeavesCaseUntouched(t *testing.T) {
	m, _, l := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Case", "", models.SeverityLow, "analyst")
	require.NoError(t, err)

	_, err = m.Transition(ctx, c.ID, models.CaseStatusContained, "analyst")
	require.Error(t, err)

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusOpen, got.Status)

	// Only the creation event, no transition record.
	events, err := l.Read(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestManager_CloseAndReopenManageClosedAt(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Case", "", models.SeverityLow, "analyst")
	require.NoError(t, err)

	closed, err := m.Transition(ctx, c.ID, models.CaseStatusClosed, "analyst")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)

	reopened, err := m.Transition(ctx, c.ID, models.CaseStatusReopened, "analyst")
	require.NoError(t, err)
	assert.Nil(t, reopened.ClosedAt)
}

func TestManager_ArtifactsAndComments(t *testing.T) {
	m, _, l := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Case", "", models.SeverityHigh, "analyst")
	require.NoError(t, err)

	err = m.AddArtifact(ctx, c.ID, "analyst", &models.Artifact{
		Type:  "domain",
		Value: "evil.example.com",
	})
	require.NoError(t, err)

	err = m.AddArtifact(ctx, c.ID, "analyst", &models.Artifact{Type: "registry_key", Value: "x"})
	require.Error(t, err, "unknown artifact type must be rejected")

	require.NoError(t, m.Comment(ctx, c.ID, "analyst", "confirmed malicious"))
	require.NoError(t, m.Tag(ctx, c.ID, "phishing", "phishing"))

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, []string{"phishing"}, got.Tags)

	events, err := l.Read(ctx, c.ID, 0, 0)
	require.NoError(t, err)

	kinds := make([]models.AuditKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}

	assert.Contains(t, kinds, models.AuditCaseArtifactAdded)
	assert.Contains(t, kinds, models.AuditCaseComment)
}

func TestManager_RemediationLockConflict(t *testing.T) {
	m, _, l := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Case", "", models.SeverityCritical, "analyst")
	require.NoError(t, err)

	require.NoError(t, m.AcquireRemediationLock(ctx, c.ID, "run-1"))

	// Re-acquiring by the holder is idempotent.
	require.NoError(t, m.AcquireRemediationLock(ctx, c.ID, "run-1"))

	// A second run fails fast and the conflict is audited.
	err = m.AcquireRemediationLock(ctx, c.ID, "run-2")
	require.ErrorIs(t, err, cases.ErrLockConflict)

	events, err := l.Read(ctx, c.ID, 0, 0)
	require.NoError(t, err)

	var conflicts int
	for _, e := range events {
		if e.Kind == models.AuditLockConflict {
			conflicts++
			assert.Equal(t, "run-2", e.RunID)
			assert.Equal(t, "run-1", e.Payload["holder"])
		}
	}
	assert.Equal(t, 1, conflicts)

	// Release by a non-holder is rejected; release by holder frees it.
	require.ErrorIs(t, m.ReleaseRemediationLock(ctx, c.ID, "run-2"), cases.ErrLockNotHeld)
	require.NoError(t, m.ReleaseRemediationLock(ctx, c.ID, "run-1"))
	require.NoError(t, m.ReleaseRemediationLock(ctx, c.ID, "run-1"))

	require.NoError(t, m.AcquireRemediationLock(ctx, c.ID, "run-2"))
}

func TestManager_ConcurrentLockAcquireHasOneWinner(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c, err := m.Create(ctx, "Case", "", models.SeverityHigh, "analyst")
	require.NoError(t, err)

	const contenders = 16

	start := make(chan struct{})
	results := make(chan error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)

		go func(runID string) {
			defer wg.Done()
			<-start
			results <- m.AcquireRemediationLock(ctx, c.ID, runID)
		}(fmt.Sprintf("run-%d", i))
	}

	close(start)
	wg.Wait()
	close(results)

	var winners, conflicts int

	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, cases.ErrLockConflict):
			conflicts++
		default:
			t.Fatalf("unexpected acquire error: %v", err)
		}
	}

	assert.Equal(t, 1, winners)
	assert.Equal(t, contenders-1, conflicts)

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.RemediationRunID)
}

func TestManager_RecoverLocksReleasesOrphans(t *testing.T) {
	m, p, l := newTestManager(t)
	ctx := context.Background()

	orphaned, err := m.Create(ctx, "Orphaned", "", models.SeverityHigh, "analyst")
	require.NoError(t, err)
	active, err := m.Create(ctx, "Active", "", models.SeverityHigh, "analyst")
	require.NoError(t, err)

	// A lock whose run finished before the crash.
	require.NoError(t, p.Runs().Save(ctx, &models.Run{
		ID: "run-done", PlaybookID: "pb", PlaybookVersion: 1, CaseID: orphaned.ID,
		Status: models.RunStatusFailed, StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, m.AcquireRemediationLock(ctx, orphaned.ID, "run-done"))

	// A lock whose run is still in flight.
	require.NoError(t, p.Runs().Save(ctx, &models.Run{
		ID: "run-live", PlaybookID: "pb", PlaybookVersion: 1, CaseID: active.ID,
		Status: models.RunStatusRunning, StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, m.AcquireRemediationLock(ctx, active.ID, "run-live"))

	require.NoError(t, m.RecoverLocks(ctx))

	freed, err := m.Get(ctx, orphaned.ID)
	require.NoError(t, err)
	assert.Empty(t, freed.RemediationRunID)

	kept, err := m.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-live", kept.RemediationRunID)

	events, err := l.Read(ctx, orphaned.ID, 0, 0)
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, models.AuditLockReleased, last.Kind)
	assert.Equal(t, "recovery", last.Payload[ledger.PayloadReason])
}
