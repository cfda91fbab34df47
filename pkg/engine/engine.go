// Package engine executes compiled playbooks against cases. One coordinator
// goroutine per run walks the graph frontier, dispatching eligible action
// nodes concurrently while conditions, joins, and terminals resolve inline.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/eventbus"
	"github.com/phalanx-soar/phalanx/pkg/events"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
	"github.com/phalanx-soar/phalanx/pkg/registry"
)

// Config tunes engine behavior. Zero values fall back to defaults.
type Config struct {
	EngineID string

	// MaxConcurrentActions caps in-flight action executions across all
	// runs on this engine instance.
	MaxConcurrentActions int

	// MaxConcurrentActionsPerRun caps in-flight action executions within a
	// single run, so one wide fan-out cannot starve every other run.
	MaxConcurrentActionsPerRun int

	// DefaultRetry applies to action nodes without their own policy.
	DefaultRetry models.RetryPolicy

	// DefaultActionTimeout applies to action nodes without timeout_ms.
	DefaultActionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.EngineID == "" {
		c.EngineID = "engine-" + uuid.New().String()[:8]
	}

	if c.MaxConcurrentActions <= 0 {
		c.MaxConcurrentActions = 16
	}

	if c.MaxConcurrentActionsPerRun <= 0 {
		c.MaxConcurrentActionsPerRun = 8
	}

	if c.DefaultRetry.MaxAttempts <= 0 {
		c.DefaultRetry = models.RetryPolicy{MaxAttempts: 3, BackoffMs: 500, Multiplier: 2}
	}

	if c.DefaultActionTimeout <= 0 {
		c.DefaultActionTimeout = 30 * time.Second
	}

	return c
}

// Engine coordinates playbook runs.
type Engine struct {
	cfg         Config
	logger      *slog.Logger
	persistence persistence.Persistence
	compiler    *compiler.Cache
	registry    *registry.Registry
	cases       *cases.Manager
	ledger      *ledger.Ledger
	bus         eventbus.EventPublisher

	rootCtx context.Context
	slots   chan struct{}

	mu     sync.Mutex
	active map[string]*runHandle
	wg     sync.WaitGroup
}

type runHandle struct {
	cancelled chan struct{}
	once      sync.Once
	done      chan struct{}
}

func (h *runHandle) cancel() {
	h.once.Do(func() { close(h.cancelled) })
}

// NewEngine builds an engine. The bus publisher may be nil, in which case
// lifecycle events are only written to the ledger.
func NewEngine(
	ctx context.Context,
	logger *slog.Logger,
	cfg Config,
	p persistence.Persistence,
	cache *compiler.Cache,
	reg *registry.Registry,
	caseManager *cases.Manager,
	auditLedger *ledger.Ledger,
	bus eventbus.EventPublisher,
) *Engine {
	cfg = cfg.withDefaults()

	return &Engine{
		cfg:         cfg,
		logger:      logger.With("module", "engine", "engine_id", cfg.EngineID),
		persistence: p,
		compiler:    cache,
		registry:    reg,
		cases:       caseManager,
		ledger:      auditLedger,
		bus:         bus,
		rootCtx:     ctx,
		slots:       make(chan struct{}, cfg.MaxConcurrentActions),
		active:      make(map[string]*runHandle),
	}
}

// StartRequest asks for a new run of a playbook against a case.
type StartRequest struct {
	PlaybookID      string
	PlaybookVersion int // 0 means latest
	CaseID          string
	Inputs          map[string]any
	Actor           string
}

// StartRun validates the request, claims the remediation lock when the
// playbook needs it, persists the new run, and hands it to a coordinator.
// Compile errors, missing inputs, unknown action types, and lock conflicts
// all reject the request before any node executes.
func (e *Engine) StartRun(ctx context.Context, req StartRequest) (*models.Run, error) {
	def, err := e.loadDefinition(ctx, req.PlaybookID, req.PlaybookVersion)
	if err != nil {
		return nil, err
	}

	graph, err := e.compiler.Compile(def)
	if err != nil {
		return nil, err
	}

	for _, input := range def.Inputs {
		if _, ok := req.Inputs[input]; !ok {
			return nil, &MissingInputError{PlaybookID: def.ID, Input: input}
		}
	}

	for _, id := range graph.NodeIDs() {
		node, _ := graph.Node(id)
		if node.Kind == models.NodeKindAction && !e.registry.HasAction(node.ActionType) {
			return nil, &UnknownActionError{NodeID: node.ID, ActionType: node.ActionType}
		}
	}

	c, err := e.cases.Get(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	runID := "run-" + uuid.New().String()[:8]

	if def.Remediation {
		if err := e.cases.AcquireRemediationLock(ctx, c.ID, runID); err != nil {
			return nil, err
		}
	}

	run := &models.Run{
		ID:              runID,
		PlaybookID:      def.ID,
		PlaybookVersion: def.Version,
		CaseID:          c.ID,
		Status:          models.RunStatusRunning,
		Remediation:     def.Remediation,
		Bindings:        map[string]any{},
		StartedAt:       time.Now().UTC(),
	}
	run.Bind(req.Inputs)

	if err := e.persistence.Runs().Save(ctx, run); err != nil {
		if def.Remediation {
			_ = e.cases.ReleaseRemediationLock(ctx, c.ID, runID)
		}

		return nil, err
	}

	if err := e.cases.LinkRun(ctx, c.ID, run.ID); err != nil {
		return nil, err
	}

	if c.Status == models.CaseStatusOpen || c.Status == models.CaseStatusReopened {
		if _, err := e.cases.Transition(ctx, c.ID, models.CaseStatusInvestigating, models.ActorEngine); err != nil {
			return nil, err
		}
	}

	if err := e.ledger.RunEvent(ctx, c.ID, run.ID, models.AuditRunStarted, map[string]any{
		"playbook_id":         def.ID,
		"playbook_version":    def.Version,
		ledger.PayloadOutputs: req.Inputs,
	}); err != nil {
		return nil, err
	}

	e.publish(ctx, c.ID, events.RunStarted{
		BaseEvent:       e.baseEvent(events.RunStartedEvent, c.ID),
		RunID:           run.ID,
		PlaybookID:      def.ID,
		PlaybookVersion: def.Version,
	})

	e.logger.InfoContext(ctx, "Run started",
		"run_id", run.ID, "playbook_id", def.ID, "case_id", c.ID, "remediation", def.Remediation)

	e.spawn(run, graph, nil)

	return run, nil
}

// Cancel requests cooperative cancellation. In-flight actions finish but
// their outputs are discarded and no further nodes dispatch.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	handle, ok := e.active[runID]
	e.mu.Unlock()

	if ok {
		handle.cancel()

		return nil
	}

	run, err := e.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return ErrRunFinished
	}

	if run.Status == models.RunStatusSuspended {
		return e.finalizeDetached(ctx, run, models.RunStatusCancelled, "")
	}

	return ErrRunNotActive
}

// Status returns the stored run document.
func (e *Engine) Status(ctx context.Context, runID string) (*models.Run, error) {
	return e.persistence.Runs().GetByID(ctx, runID)
}

// Wait blocks until an active run's coordinator exits. Used by tests and
// graceful shutdown; returns immediately for unknown runs.
func (e *Engine) Wait(runID string) {
	e.mu.Lock()
	handle, ok := e.active[runID]
	e.mu.Unlock()

	if ok {
		<-handle.done
	}
}

// Shutdown waits for every active coordinator to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleRunRequested adapts the engine to bus-driven intake.
func (e *Engine) HandleRunRequested(ctx context.Context, event any) error {
	req, ok := event.(*events.RunRequested)
	if !ok {
		return errors.New("unexpected event payload for run.requested")
	}

	_, err := e.StartRun(ctx, StartRequest{
		PlaybookID:      req.PlaybookID,
		PlaybookVersion: req.PlaybookVersion,
		CaseID:          req.CaseID,
		Inputs:          req.Inputs,
		Actor:           models.ActorEngine,
	})

	return err
}

func (e *Engine) loadDefinition(ctx context.Context, id string, version int) (*models.PlaybookDefinition, error) {
	if version > 0 {
		return e.persistence.Playbooks().GetByVersion(ctx, id, version)
	}

	return e.persistence.Playbooks().GetLatest(ctx, id)
}

func (e *Engine) spawn(run *models.Run, graph *compiler.CompiledGraph, restored map[string]models.EdgeLabel) {
	handle := &runHandle{
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	e.active[run.ID] = handle
	e.mu.Unlock()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.active, run.ID)
			e.mu.Unlock()
			close(handle.done)
		}()

		c := newCoordinator(e, graph, run, handle, restored)
		c.loop(e.rootCtx)
	}()
}

func (e *Engine) baseEvent(eventType events.EventType, caseID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		CaseID:    caseID,
		EngineID:  e.cfg.EngineID,
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// finalizeDetached settles a run that has no live coordinator, releasing
// the remediation lock and recording the terminal event.
func (e *Engine) finalizeDetached(ctx context.Context, run *models.Run, status models.RunStatus, errMsg string) error {
	now := time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	run.EndedAt = &now

	if err := e.persistence.Runs().Save(ctx, run); err != nil {
		return err
	}

	if run.Remediation {
		if err := e.cases.ReleaseRemediationLock(ctx, run.CaseID, run.ID); err != nil && !errors.Is(err, cases.ErrLockNotHeld) {
			return err
		}
	}

	kind := models.AuditRunCancelled
	payload := map[string]any{}

	if status == models.RunStatusFailed {
		kind = models.AuditRunFailed
		payload[ledger.PayloadError] = errMsg
	}

	return e.ledger.RunEvent(ctx, run.CaseID, run.ID, kind, payload)
}
