package models

import "time"

// AuditKind classifies an audit ledger event.
type AuditKind string

const (
	// Run lifecycle.
	AuditRunStarted   AuditKind = "run.started"
	AuditRunCompleted AuditKind = "run.completed"
	AuditRunFailed    AuditKind = "run.failed"
	AuditRunCancelled AuditKind = "run.cancelled"
	AuditRunSuspended AuditKind = "run.suspended"
	AuditRunResumed   AuditKind = "run.resumed"

	// Node execution.
	AuditNodeDispatched     AuditKind = "node.dispatched"
	AuditNodeSucceeded      AuditKind = "node.succeeded"
	AuditNodeAttemptFailed  AuditKind = "node.attempt_failed"
	AuditNodeFailed         AuditKind = "node.failed"
	AuditConditionEvaluated AuditKind = "condition.evaluated"
	AuditJoinSatisfied      AuditKind = "join.satisfied"
	AuditBranchPruned       AuditKind = "branch.pruned"
	AuditEngineFault        AuditKind = "engine.fault"

	// Case lifecycle.
	AuditCaseCreated       AuditKind = "case.created"
	AuditCaseTransitioned  AuditKind = "case.transitioned"
	AuditCaseComment       AuditKind = "case.comment"
	AuditCaseArtifactAdded AuditKind = "case.artifact_added"

	// Remediation lock.
	AuditLockAcquired AuditKind = "lock.acquired"
	AuditLockReleased AuditKind = "lock.released"
	AuditLockConflict AuditKind = "lock.conflict"
)

// ActorEngine is the actor recorded on events emitted by the execution
// engine itself, as opposed to analysts or named integrations.
const ActorEngine = "engine"

// AuditEvent is one immutable record in the append-only ledger. Offset is
// assigned by the ledger on append; ledger order is append order, never
// event timestamp (integration clock skew must not reorder the trail).
type AuditEvent struct {
	Offset    int64          `json:"offset"`
	Timestamp time.Time      `json:"timestamp"`
	CaseID    string         `json:"case_id"`
	RunID     string         `json:"run_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Kind      AuditKind      `json:"kind"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload,omitempty"`
}
