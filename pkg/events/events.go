// Package events defines the event types published on the bus for run and
// case lifecycle notifications.
package events

import (
	"time"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

type EventType string

// Topic carries every phalanx event.
const Topic = "phalanx.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Intake events.
	RunRequestedEvent EventType = "run.requested"

	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
	RunSuspendedEvent EventType = "run.suspended"

	// Node events.
	NodeFinishedEvent EventType = "node.finished"
	NodeFailedEvent   EventType = "node.failed"

	// Case lifecycle events.
	CaseTransitionedEvent EventType = "case.transitioned"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	CaseID    string         `json:"case_id"`
	EngineID  string         `json:"engine_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RunRequested asks the engine to start a playbook run against a case. It
// is what intake sources publish.
type RunRequested struct {
	BaseEvent

	PlaybookID      string         `json:"playbook_id"`
	PlaybookVersion int            `json:"playbook_version,omitempty"` // 0 means latest
	Inputs          map[string]any `json:"inputs,omitempty"`
}

func (e RunRequested) GetType() EventType {
	return RunRequestedEvent
}

type RunStarted struct {
	BaseEvent

	RunID           string `json:"run_id"`
	PlaybookID      string `json:"playbook_id"`
	PlaybookVersion int    `json:"playbook_version"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID    string         `json:"run_id"`
	Bindings map[string]any `json:"bindings,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

// RunSuspended signals that a run checkpoint could not be persisted and the
// run parked itself for manual resume.
type RunSuspended struct {
	BaseEvent

	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

func (e RunSuspended) GetType() EventType {
	return RunSuspendedEvent
}

type NodeFinished struct {
	BaseEvent

	RunID      string           `json:"run_id"`
	NodeID     string           `json:"node_id"`
	Outcome    models.EdgeLabel `json:"outcome"`
	Outputs    map[string]any   `json:"outputs,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func (e NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

type NodeFailed struct {
	BaseEvent

	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type CaseTransitioned struct {
	BaseEvent

	From  models.CaseStatus `json:"from"`
	To    models.CaseStatus `json:"to"`
	Actor string            `json:"actor"`
}

func (e CaseTransitioned) GetType() EventType {
	return CaseTransitionedEvent
}
