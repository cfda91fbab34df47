package models

import "time"

// RunStatus represents the lifecycle state of a playbook run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended" // Storage unavailable, resumable
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal runs are immutable
// except for audit linkage.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// NodeExecution records one attempt of one node within a run.
type NodeExecution struct {
	NodeID    string         `json:"node_id"`
	Attempt   int            `json:"attempt"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Outcome   EdgeLabel      `json:"outcome,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Run is one execution instance of a playbook definition bound to exactly
// one case. Bindings are append-only for the lifetime of the run.
type Run struct {
	ID              string           `json:"id"               validate:"required"`
	PlaybookID      string           `json:"playbook_id"      validate:"required"`
	PlaybookVersion int              `json:"playbook_version" validate:"min=1"`
	CaseID          string           `json:"case_id"          validate:"required"`
	Status          RunStatus        `json:"status"`
	Remediation     bool             `json:"remediation"` // Holds the case remediation lock while active
	Bindings        map[string]any   `json:"bindings"`
	Executions      []*NodeExecution `json:"executions,omitempty"`
	Error           string           `json:"error,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
}

// Bind appends output bindings. Existing bindings are never overwritten; the
// first writer wins, which keeps replay deterministic.
func (r *Run) Bind(outputs map[string]any) {
	if r.Bindings == nil {
		r.Bindings = make(map[string]any, len(outputs))
	}

	for name, value := range outputs {
		if _, exists := r.Bindings[name]; !exists {
			r.Bindings[name] = value
		}
	}
}

// RunSnapshot is the externally observable view of a run, returned by the
// engine's status operation.
type RunSnapshot struct {
	RunID           string         `json:"run_id"`
	CaseID          string         `json:"case_id"`
	PlaybookID      string         `json:"playbook_id"`
	PlaybookVersion int            `json:"playbook_version"`
	Status          RunStatus      `json:"status"`
	Bindings        map[string]any `json:"bindings"`
	NodesExecuted   int            `json:"nodes_executed"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}
