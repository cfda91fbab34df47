package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/events"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
)

// coordinator drives one run. It owns the run document and all graph
// traversal state; action executions are the only concurrent parts and
// report back over the results channel.
type coordinator struct {
	engine *Engine
	graph  *compiler.CompiledGraph
	run    *models.Run
	handle *runHandle
	logger *slog.Logger

	// done holds the outcome label of every settled node. pruned holds
	// nodes that can no longer execute on any path.
	done    map[string]models.EdgeLabel
	pruned  map[string]bool
	running map[string]bool

	results chan nodeResult

	// slots caps in-flight actions for this run; the engine-wide cap is
	// enforced separately by engine.slots.
	slots chan struct{}

	failed    bool
	failError string
}

type nodeResult struct {
	nodeID   string
	outcome  models.EdgeLabel
	outputs  map[string]any
	err      error
	errKind  string
	attempts int
	started  time.Time
	ended    time.Time
}

func newCoordinator(e *Engine, graph *compiler.CompiledGraph, run *models.Run, handle *runHandle, restored map[string]models.EdgeLabel) *coordinator {
	done := restored
	if done == nil {
		done = make(map[string]models.EdgeLabel)
	}

	c := &coordinator{
		engine:  e,
		graph:   graph,
		run:     run,
		handle:  handle,
		logger:  e.logger.With("run_id", run.ID, "case_id", run.CaseID),
		done:    done,
		pruned:  make(map[string]bool),
		running: make(map[string]bool),
		// Each node dispatches at most once, so this buffer lets workers
		// deliver results even if the coordinator suspended meanwhile.
		results: make(chan nodeResult, len(graph.NodeIDs())),
		slots:   make(chan struct{}, e.cfg.MaxConcurrentActionsPerRun),
	}

	// A restored node failure with no failure edge means the run was
	// already failing when the checkpoint was taken.
	for id, outcome := range done {
		if outcome != models.EdgeFailure {
			continue
		}

		if !graph.HasEdge(id, models.EdgeFailure) {
			c.failed = true
			c.failError = restoredError(run, id)
		}
	}

	return c
}

func restoredError(run *models.Run, nodeID string) string {
	for i := len(run.Executions) - 1; i >= 0; i-- {
		if run.Executions[i].NodeID == nodeID && run.Executions[i].Error != "" {
			return "node " + nodeID + ": " + run.Executions[i].Error
		}
	}

	return "node " + nodeID + " failed"
}

func (c *coordinator) loop(ctx context.Context) {
	for {
		if c.cancelled() {
			c.drain(ctx)
			c.finalize(ctx, models.RunStatusCancelled)

			return
		}

		if !c.failed {
			if ok := c.advance(ctx); !ok {
				return // suspended
			}
		}

		if len(c.running) == 0 {
			if c.failed {
				c.finalize(ctx, models.RunStatusFailed)
			} else {
				c.finalize(ctx, models.RunStatusCompleted)
			}

			return
		}

		select {
		case result := <-c.results:
			if ok := c.settle(ctx, result); !ok {
				return // suspended
			}
		case <-c.handle.cancelled:
		}
	}
}

// advance executes inline nodes and dispatches ready actions until the
// frontier has no inline work left. Returns false when a checkpoint failed
// and the run suspended.
func (c *coordinator) advance(ctx context.Context) bool {
	for {
		c.prune(ctx)

		ready := c.readyNodes()
		if len(ready) == 0 {
			return true
		}

		progressed := false

		for _, id := range ready {
			node, _ := c.graph.Node(id)

			switch node.Kind {
			case models.NodeKindAction:
				c.dispatch(ctx, node)
			case models.NodeKindCondition:
				if ok := c.evaluateCondition(ctx, node); !ok {
					return false
				}

				if c.failed {
					return true
				}

				progressed = true
			case models.NodeKindJoin:
				c.done[id] = models.EdgeDefault

				if err := c.engine.ledger.NodeEvent(ctx, c.run.CaseID, c.run.ID, id, models.AuditJoinSatisfied, nil); err != nil {
					return c.suspend(ctx, err)
				}

				progressed = true
			case models.NodeKindTerminal:
				c.done[id] = models.EdgeDefault
				progressed = true
			}
		}

		if !progressed {
			return true
		}
	}
}

// readyNodes returns dispatchable nodes ordered by (rank, id).
func (c *coordinator) readyNodes() []string {
	ready := []string{}

	for _, id := range c.graph.NodeIDs() {
		if _, settled := c.done[id]; settled || c.pruned[id] || c.running[id] {
			continue
		}

		if c.eligible(id) {
			ready = append(ready, id)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if c.graph.Rank(ready[i]) != c.graph.Rank(ready[j]) {
			return c.graph.Rank(ready[i]) < c.graph.Rank(ready[j])
		}

		return ready[i] < ready[j]
	})

	return ready
}

// eligible reports whether a node's incoming edges allow it to run now. A
// join waits for every incoming edge to resolve; any other node runs as
// soon as one incoming edge fires.
func (c *coordinator) eligible(id string) bool {
	if id == c.graph.Start() {
		return true
	}

	node, _ := c.graph.Node(id)
	incoming := c.graph.Predecessors(id)

	fired := 0
	unresolved := 0

	for _, edge := range incoming {
		switch c.edgeState(edge) {
		case edgeFired:
			fired++
		case edgeUnresolved:
			unresolved++
		}
	}

	if node.Kind == models.NodeKindJoin {
		return unresolved == 0 && fired > 0
	}

	return fired > 0
}

type edgeStatus int

const (
	edgeUnresolved edgeStatus = iota
	edgeFired
	edgeDead
)

func (c *coordinator) edgeState(edge models.Edge) edgeStatus {
	if c.pruned[edge.From] {
		return edgeDead
	}

	outcome, settled := c.done[edge.From]
	if !settled {
		return edgeUnresolved
	}

	if outcome == edge.Label {
		return edgeFired
	}

	return edgeDead
}

// prune settles nodes that can no longer run: every incoming edge is dead.
// Pruning cascades, so a pruned branch head takes its whole subtree with it
// and releases joins waiting on it.
func (c *coordinator) prune(ctx context.Context) {
	for {
		changed := false

		for _, id := range c.graph.NodeIDs() {
			if _, settled := c.done[id]; settled || c.pruned[id] || c.running[id] || id == c.graph.Start() {
				continue
			}

			incoming := c.graph.Predecessors(id)
			dead := 0

			for _, edge := range incoming {
				if c.edgeState(edge) == edgeDead {
					dead++
				}
			}

			if len(incoming) > 0 && dead == len(incoming) {
				c.pruned[id] = true
				changed = true

				c.logger.DebugContext(ctx, "Branch pruned", "node_id", id)

				_ = c.engine.ledger.NodeEvent(ctx, c.run.CaseID, c.run.ID, id, models.AuditBranchPruned, nil)
			}
		}

		if !changed {
			return
		}
	}
}

// evaluateCondition resolves a condition node inline. An unbound predicate
// variable is an engine fault that fails the run. Returns false only on
// suspension.
func (c *coordinator) evaluateCondition(ctx context.Context, node *models.NodeSpec) bool {
	outcome, err := node.Predicate.Evaluate(c.run.Bindings)
	if err != nil {
		c.failed = true
		c.failError = "condition " + node.ID + ": " + err.Error()

		if lerr := c.engine.ledger.NodeEvent(ctx, c.run.CaseID, c.run.ID, node.ID, models.AuditEngineFault, map[string]any{
			ledger.PayloadError: err.Error(),
		}); lerr != nil {
			return c.suspend(ctx, lerr)
		}

		return true
	}

	label := models.EdgeFalse
	if outcome {
		label = models.EdgeTrue
	}

	c.done[node.ID] = label

	if err := c.engine.ledger.NodeEvent(ctx, c.run.CaseID, c.run.ID, node.ID, models.AuditConditionEvaluated, map[string]any{
		ledger.PayloadOutcome: string(label),
	}); err != nil {
		return c.suspend(ctx, err)
	}

	return true
}

// dispatch hands an action node to a worker goroutine.
func (c *coordinator) dispatch(ctx context.Context, node *models.NodeSpec) {
	c.running[node.ID] = true

	bindings := snapshotBindings(c.run.Bindings)

	go func() {
		c.slots <- struct{}{}
		defer func() { <-c.slots }()

		c.engine.slots <- struct{}{}
		defer func() { <-c.engine.slots }()

		c.results <- c.engine.executeAction(ctx, c.run, node, bindings)
	}()
}

// settle folds an action result into the run and checkpoints. Cancelled
// runs discard outputs. Returns false when the run suspended.
func (c *coordinator) settle(ctx context.Context, result nodeResult) bool {
	delete(c.running, result.nodeID)

	if c.cancelled() {
		// The attempt still happened, so it enters the run record like a
		// drained result does. Its outputs are discarded and no successors
		// fire.
		execution := &models.NodeExecution{
			NodeID:    result.nodeID,
			Attempt:   result.attempts,
			StartedAt: result.started,
			EndedAt:   result.ended,
			Outcome:   result.outcome,
		}

		if result.err != nil {
			execution.Error = result.err.Error()
		}

		c.run.Executions = append(c.run.Executions, execution)

		return true
	}

	execution := &models.NodeExecution{
		NodeID:    result.nodeID,
		Attempt:   result.attempts,
		StartedAt: result.started,
		EndedAt:   result.ended,
		Outcome:   result.outcome,
		Output:    result.outputs,
	}

	if result.err != nil {
		execution.Error = result.err.Error()
	}

	c.run.Executions = append(c.run.Executions, execution)
	c.done[result.nodeID] = result.outcome

	if result.outcome == models.EdgeSuccess {
		c.run.Bind(result.outputs)

		if err := c.engine.ledger.NodeEvent(ctx, c.run.CaseID, c.run.ID, result.nodeID, models.AuditNodeSucceeded, map[string]any{
			ledger.PayloadOutputs: result.outputs,
		}); err != nil {
			return c.suspend(ctx, err)
		}

		c.engine.publish(ctx, c.run.CaseID, events.NodeFinished{
			BaseEvent:  c.engine.baseEvent(events.NodeFinishedEvent, c.run.CaseID),
			RunID:      c.run.ID,
			NodeID:     result.nodeID,
			Outcome:    result.outcome,
			Outputs:    result.outputs,
			DurationMs: result.ended.Sub(result.started).Milliseconds(),
		})
	} else {
		if err := c.engine.ledger.NodeEvent(ctx, c.run.CaseID, c.run.ID, result.nodeID, models.AuditNodeFailed, map[string]any{
			ledger.PayloadError:   execution.Error,
			ledger.PayloadKind:    result.errKind,
			ledger.PayloadAttempt: result.attempts,
		}); err != nil {
			return c.suspend(ctx, err)
		}

		c.engine.publish(ctx, c.run.CaseID, events.NodeFailed{
			BaseEvent: c.engine.baseEvent(events.NodeFailedEvent, c.run.CaseID),
			RunID:     c.run.ID,
			NodeID:    result.nodeID,
			ErrorKind: result.errKind,
			Error:     execution.Error,
			Attempts:  result.attempts,
		})

		// Without a failure edge the whole run fails.
		if !c.graph.HasEdge(result.nodeID, models.EdgeFailure) {
			c.failed = true
			c.failError = "node " + result.nodeID + ": " + execution.Error
		}
	}

	if err := c.engine.persistence.Runs().Save(ctx, c.run); err != nil {
		return c.suspend(ctx, err)
	}

	return true
}

// drain waits for in-flight actions after cancellation. Results are
// recorded in the run document but outputs are not bound and no successor
// dispatches.
func (c *coordinator) drain(ctx context.Context) {
	for len(c.running) > 0 {
		result := <-c.results
		delete(c.running, result.nodeID)

		execution := &models.NodeExecution{
			NodeID:    result.nodeID,
			Attempt:   result.attempts,
			StartedAt: result.started,
			EndedAt:   result.ended,
			Outcome:   result.outcome,
		}
		if result.err != nil {
			execution.Error = result.err.Error()
		}

		c.run.Executions = append(c.run.Executions, execution)
	}
}

func (c *coordinator) cancelled() bool {
	select {
	case <-c.handle.cancelled:
		return true
	default:
		return false
	}
}

// suspend parks the run after a persistence failure. Best effort: the
// checkpoint that failed may fail again here, in which case recovery at
// next startup reconciles from the last committed state.
func (c *coordinator) suspend(ctx context.Context, cause error) bool {
	c.logger.ErrorContext(ctx, "Suspending run, checkpoint failed", "error", cause)

	c.run.Status = models.RunStatusSuspended
	_ = c.engine.persistence.Runs().Save(ctx, c.run)
	_ = c.engine.ledger.RunEvent(ctx, c.run.CaseID, c.run.ID, models.AuditRunSuspended, map[string]any{
		ledger.PayloadReason: cause.Error(),
	})

	c.engine.publish(ctx, c.run.CaseID, events.RunSuspended{
		BaseEvent: c.engine.baseEvent(events.RunSuspendedEvent, c.run.CaseID),
		RunID:     c.run.ID,
		Reason:    cause.Error(),
	})

	return false
}

func (c *coordinator) finalize(ctx context.Context, status models.RunStatus) {
	now := time.Now().UTC()
	c.run.Status = status
	c.run.EndedAt = &now

	if status == models.RunStatusFailed {
		c.run.Error = c.failError
	}

	if err := c.engine.persistence.Runs().Save(ctx, c.run); err != nil {
		c.suspend(ctx, err)

		return
	}

	if c.run.Remediation {
		if err := c.engine.cases.ReleaseRemediationLock(ctx, c.run.CaseID, c.run.ID); err != nil && !errors.Is(err, cases.ErrLockNotHeld) {
			c.logger.ErrorContext(ctx, "Failed to release remediation lock", "error", err)
		}
	}

	duration := now.Sub(c.run.StartedAt)

	switch status {
	case models.RunStatusCompleted:
		_ = c.engine.ledger.RunEvent(ctx, c.run.CaseID, c.run.ID, models.AuditRunCompleted, nil)

		c.engine.publish(ctx, c.run.CaseID, events.RunCompleted{
			BaseEvent: c.engine.baseEvent(events.RunCompletedEvent, c.run.CaseID),
			RunID:     c.run.ID,
			Bindings:  c.run.Bindings,
			Duration:  duration,
		})

		// A successful remediation run contains the case.
		if c.run.Remediation {
			c.containCase(ctx)
		}
	case models.RunStatusFailed:
		_ = c.engine.ledger.RunEvent(ctx, c.run.CaseID, c.run.ID, models.AuditRunFailed, map[string]any{
			ledger.PayloadError: c.failError,
		})

		c.engine.publish(ctx, c.run.CaseID, events.RunFailed{
			BaseEvent: c.engine.baseEvent(events.RunFailedEvent, c.run.CaseID),
			RunID:     c.run.ID,
			Error:     c.failError,
			Duration:  duration,
		})
	case models.RunStatusCancelled:
		_ = c.engine.ledger.RunEvent(ctx, c.run.CaseID, c.run.ID, models.AuditRunCancelled, nil)

		c.engine.publish(ctx, c.run.CaseID, events.RunCancelled{
			BaseEvent: c.engine.baseEvent(events.RunCancelledEvent, c.run.CaseID),
			RunID:     c.run.ID,
		})
	}

	c.logger.InfoContext(ctx, "Run finished", "status", status, "duration", duration)
}

func (c *coordinator) containCase(ctx context.Context) {
	current, err := c.engine.cases.Get(ctx, c.run.CaseID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to load case for containment", "error", err)

		return
	}

	if !models.CanTransition(current.Status, models.CaseStatusContained) {
		return
	}

	if _, err := c.engine.cases.Transition(ctx, c.run.CaseID, models.CaseStatusContained, models.ActorEngine); err != nil {
		c.logger.ErrorContext(ctx, "Failed to contain case", "error", err)
	}
}

func snapshotBindings(bindings map[string]any) map[string]any {
	snapshot := make(map[string]any, len(bindings))
	for k, v := range bindings {
		snapshot[k] = v
	}

	return snapshot
}
