package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/otelhelper"
	"github.com/phalanx-soar/phalanx/pkg/protocol"
	"github.com/phalanx-soar/phalanx/pkg/template"
)

// executeAction runs one action node to its final outcome, retrying
// transient failures per the node's policy. Exactly one node.dispatched
// event is recorded, one node.attempt_failed per failed attempt, and the
// terminal node.succeeded/node.failed is left to the coordinator.
func (e *Engine) executeAction(ctx context.Context, run *models.Run, node *models.NodeSpec, bindings map[string]any) nodeResult {
	result := nodeResult{
		nodeID:  node.ID,
		started: time.Now().UTC(),
	}

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("phalanx/engine"), "action.execute",
		attribute.String(otelhelper.CaseIDKey, run.CaseID),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.ActionTypeKey, node.ActionType),
	)
	defer span.End()

	fail := func(err *protocol.ActionError, attempts int) nodeResult {
		result.outcome = models.EdgeFailure
		result.err = err
		result.errKind = string(err.Kind)
		result.attempts = attempts
		result.ended = time.Now().UTC()

		otelhelper.SetError(span, err, attribute.Int(otelhelper.AttemptsKey, attempts))

		return result
	}

	_ = e.ledger.NodeEvent(ctx, run.CaseID, run.ID, node.ID, models.AuditNodeDispatched, nil)

	params, err := template.ResolveParams(node.Params, bindings)
	if err != nil {
		return fail(protocol.NewActionError(protocol.ErrInvalidParameters, "failed to resolve parameters", err), 1)
	}

	action, err := e.registry.CreateAction(node.ActionType, params)
	if err != nil {
		return fail(protocol.NewActionError(protocol.ErrInvalidParameters, "failed to create action", err), 1)
	}

	policy := e.retryPolicy(node)

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = policy.Backoff()
	wait.Multiplier = policy.Multiplier
	wait.RandomizationFactor = 0
	wait.MaxElapsedTime = 0
	wait.Reset()

	timeout := node.Timeout()
	if timeout <= 0 {
		timeout = e.cfg.DefaultActionTimeout
	}

	invocation := protocol.Invocation{
		CaseID:     run.CaseID,
		RunID:      run.ID,
		NodeID:     node.ID,
		ActionName: node.ActionType,
		Parameters: params,
		Timeout:    timeout,
	}

	var lastErr *protocol.ActionError

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := action.Execute(attemptCtx, invocation)

		cancel()

		if err == nil {
			result.outcome = models.EdgeSuccess
			result.outputs = e.declaredOutputs(node, output)
			result.attempts = attempt
			result.ended = time.Now().UTC()

			return result
		}

		lastErr = protocol.AsActionError(err)

		_ = e.ledger.NodeEvent(ctx, run.CaseID, run.ID, node.ID, models.AuditNodeAttemptFailed, map[string]any{
			ledger.PayloadAttempt: attempt,
			ledger.PayloadError:   lastErr.Error(),
			ledger.PayloadKind:    string(lastErr.Kind),
		})

		if !lastErr.Retryable() || attempt == policy.MaxAttempts {
			return fail(lastErr, attempt)
		}

		select {
		case <-time.After(wait.NextBackOff()):
		case <-ctx.Done():
			return fail(protocol.NewActionError(protocol.ErrTimeout, "engine shutting down", ctx.Err()), attempt)
		}
	}

	return fail(lastErr, policy.MaxAttempts)
}

// retryPolicy merges the node's policy with engine defaults.
func (e *Engine) retryPolicy(node *models.NodeSpec) models.RetryPolicy {
	policy := e.cfg.DefaultRetry

	if node.Retry != nil {
		if node.Retry.MaxAttempts > 0 {
			policy.MaxAttempts = node.Retry.MaxAttempts
		}

		if node.Retry.BackoffMs > 0 {
			policy.BackoffMs = node.Retry.BackoffMs
		}

		if node.Retry.Multiplier > 0 {
			policy.Multiplier = node.Retry.Multiplier
		}
	}

	return policy
}

// declaredOutputs filters an action result down to the node's declared
// output names, so undeclared keys never leak into the binding scope the
// compiler validated against.
func (e *Engine) declaredOutputs(node *models.NodeSpec, output *protocol.ActionResult) map[string]any {
	if output == nil {
		return map[string]any{}
	}

	if len(node.Outputs) == 0 {
		return output.Outputs
	}

	declared := make(map[string]any, len(node.Outputs))

	for _, name := range node.Outputs {
		if value, ok := output.Outputs[name]; ok {
			declared[name] = value
		}
	}

	return declared
}
