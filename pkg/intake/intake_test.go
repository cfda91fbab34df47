package intake

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/engine"
	"github.com/phalanx-soar/phalanx/pkg/integrations/fake"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
	"github.com/phalanx-soar/phalanx/pkg/persistence/file"
	"github.com/phalanx-soar/phalanx/pkg/protocol"
	"github.com/phalanx-soar/phalanx/pkg/registry"
)

type fixture struct {
	ctx        context.Context
	dispatcher *Dispatcher
	cases      *cases.Manager
	store      persistence.Persistence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	auditLedger := ledger.NewLedger(logger, store.Ledger())
	caseManager := cases.NewManager(logger, store, auditLedger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(fake.NewFactory(fake.NewScript()))

	cache, err := compiler.NewCache(0)
	require.NoError(t, err)

	eng := engine.NewEngine(ctx, logger, engine.Config{
		DefaultRetry:         models.RetryPolicy{MaxAttempts: 1, BackoffMs: 1, Multiplier: 2},
		DefaultActionTimeout: time.Second,
	}, store, cache, reg, caseManager, auditLedger, nil)

	require.NoError(t, store.Playbooks().Save(ctx, &models.PlaybookDefinition{
		ID:      "triage",
		Name:    "Alert triage",
		Version: 1,
		Start:   "enrich",
		Nodes: []*models.NodeSpec{
			{ID: "enrich", Kind: models.NodeKindAction, ActionType: "fake"},
			{ID: "done", Kind: models.NodeKindTerminal},
		},
		Edges: []*models.Edge{{From: "enrich", To: "done", Label: models.EdgeSuccess}},
	}))

	return &fixture{
		ctx:        ctx,
		dispatcher: NewDispatcher(logger, caseManager, eng),
		cases:      caseManager,
		store:      store,
	}
}

func TestHandleCreatesCaseWhenUnbound(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Handle(f.ctx, protocol.TriggerRequest{
		PlaybookID: "triage",
		CaseTitle:  "EDR alert on host-12",
		Severity:   "critical",
	})
	require.NoError(t, err)

	listed, err := f.cases.List(f.ctx, persistence.ListCasesOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	assert.Equal(t, "EDR alert on host-12", listed[0].Title)
	assert.Equal(t, models.SeverityCritical, listed[0].Severity)
	assert.Len(t, listed[0].RunIDs, 1)
}

func TestHandleBindsExistingCase(t *testing.T) {
	f := newFixture(t)

	c, err := f.cases.Create(f.ctx, "Existing investigation", "", models.SeverityLow, "analyst-1")
	require.NoError(t, err)

	err = f.dispatcher.Handle(f.ctx, protocol.TriggerRequest{
		PlaybookID: "triage",
		CaseID:     c.ID,
	})
	require.NoError(t, err)

	updated, err := f.cases.Get(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, updated.RunIDs, 1)

	listed, err := f.cases.List(f.ctx, persistence.ListCasesOptions{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestHandleNormalizesUnknownSeverity(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Handle(f.ctx, protocol.TriggerRequest{
		PlaybookID: "triage",
		Severity:   "sev1",
	})
	require.NoError(t, err)

	listed, err := f.cases.List(f.ctx, persistence.ListCasesOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.SeverityMedium, listed[0].Severity)
}

func TestHandleRejectsUnknownPlaybook(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Handle(f.ctx, protocol.TriggerRequest{PlaybookID: "missing"})
	assert.ErrorIs(t, err, persistence.ErrPlaybookNotFound)
}
