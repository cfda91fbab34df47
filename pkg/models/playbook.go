// Package models defines the core domain models for playbook-driven security automation.
package models

import (
	"fmt"
	"time"
)

// NodeKind represents the kind of a playbook node.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"    // Invokes an integration through the action contract
	NodeKindCondition NodeKind = "condition" // Pure predicate over run bindings
	NodeKindJoin      NodeKind = "join"      // Rendezvous of multiple branches
	NodeKindTerminal  NodeKind = "terminal"  // Ends a branch
)

// EdgeLabel represents the outcome label on an outgoing edge.
type EdgeLabel string

const (
	EdgeSuccess EdgeLabel = "success"
	EdgeFailure EdgeLabel = "failure"
	EdgeTrue    EdgeLabel = "true"
	EdgeFalse   EdgeLabel = "false"
	EdgeDefault EdgeLabel = "default"
)

// ValidEdgeLabels returns the outcome labels a node kind may carry on its
// outgoing edges. Terminal nodes carry none.
func ValidEdgeLabels(kind NodeKind) []EdgeLabel {
	switch kind {
	case NodeKindAction:
		return []EdgeLabel{EdgeSuccess, EdgeFailure}
	case NodeKindCondition:
		return []EdgeLabel{EdgeTrue, EdgeFalse}
	case NodeKindJoin:
		return []EdgeLabel{EdgeDefault}
	default:
		return nil
	}
}

// RetryPolicy defines retry behavior for action nodes. Zero values fall back
// to the engine defaults (exponential backoff).
type RetryPolicy struct {
	MaxAttempts int     `json:"max_attempts"        validate:"min=0"`
	BackoffMs   int     `json:"initial_backoff_ms,omitempty"`
	Multiplier  float64 `json:"multiplier,omitempty"`
}

// Backoff returns the configured initial backoff duration.
func (p RetryPolicy) Backoff() time.Duration {
	return time.Duration(p.BackoffMs) * time.Millisecond
}

// NodeSpec describes one node of a playbook definition.
type NodeSpec struct {
	ID         string                `json:"id"                    validate:"required"`
	Kind       NodeKind              `json:"kind"                  validate:"required"`
	Name       string                `json:"name,omitempty"`
	ActionType string                `json:"action_type,omitempty"` // Action nodes: registered integration type
	Params     map[string]ParamValue `json:"params,omitempty"`
	Outputs    []string              `json:"outputs,omitempty"` // Variables bound from action output
	Predicate  *Predicate            `json:"predicate,omitempty"`
	Retry      *RetryPolicy          `json:"retry,omitempty"`
	TimeoutMs  int                   `json:"timeout_ms,omitempty"`
}

// Timeout returns the node's action timeout, or zero when unset.
func (n *NodeSpec) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// Edge connects two nodes, labeled by the outcome that routes along it.
type Edge struct {
	From  string    `json:"from"  validate:"required"`
	To    string    `json:"to"    validate:"required"`
	Label EdgeLabel `json:"label" validate:"required"`
}

// PlaybookDefinition is a named, versioned response playbook. It is
// immutable once referenced by a run; changes require a version bump.
type PlaybookDefinition struct {
	ID          string         `json:"id"          validate:"required"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Version     int            `json:"version"     validate:"min=1"`
	Description string         `json:"description,omitempty"`
	Remediation bool           `json:"remediation"` // Runs require the case remediation lock
	Inputs      []string       `json:"inputs,omitempty"`
	Start       string         `json:"start"       validate:"required"`
	Nodes       []*NodeSpec    `json:"nodes"       validate:"required,min=1,dive"`
	Edges       []*Edge        `json:"edges,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CacheKey identifies the definition content for compiled-graph caching.
func (d *PlaybookDefinition) CacheKey() string {
	return fmt.Sprintf("%s@v%d", d.ID, d.Version)
}

// NodeByID returns the node spec with the given id, if present.
func (d *PlaybookDefinition) NodeByID(id string) (*NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return nil, false
}
