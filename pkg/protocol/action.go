// Package protocol defines the contracts between the execution engine and
// external security-tool integrations.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrorKind classifies an integration-level failure. The engine's retry
// policy consults the kind: RateLimited, TransientNetworkError and Timeout
// are retry-eligible by default; AuthFailure and InvalidParameters fail
// fast regardless of the node's configured policy.
type ErrorKind string

const (
	ErrTimeout               ErrorKind = "timeout"
	ErrAuthFailure           ErrorKind = "auth_failure"
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrInvalidParameters     ErrorKind = "invalid_parameters"
	ErrRemoteError           ErrorKind = "remote_error"
	ErrTransientNetworkError ErrorKind = "transient_network_error"
)

// ActionError is the error contract every integration reports failures
// through. Anything else escaping an Execute call is treated as RemoteError.
type ActionError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
	Err    error     `json:"-"`
}

func (e *ActionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("action error (%s): %s", e.Kind, e.Detail)
	}

	return fmt.Sprintf("action error (%s)", e.Kind)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error kind is retry-eligible under default
// policy.
func (e *ActionError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimited, ErrTransientNetworkError, ErrTimeout:
		return true
	default:
		return false
	}
}

// NewActionError builds an ActionError wrapping an underlying cause.
func NewActionError(kind ErrorKind, detail string, err error) *ActionError {
	return &ActionError{Kind: kind, Detail: detail, Err: err}
}

// AsActionError extracts an ActionError from an error chain. Unclassified
// errors are wrapped as RemoteError so the engine always has a kind to
// route on.
func AsActionError(err error) *ActionError {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr
	}

	return &ActionError{Kind: ErrRemoteError, Detail: err.Error(), Err: err}
}

// ActionResult is the successful outcome of one action invocation. Outputs
// are bound into the run under the node's declared output names.
type ActionResult struct {
	Outputs map[string]any `json:"outputs"`
}

// Invocation carries the resolved call context for one action dispatch.
// Case and run identity are explicit here; there is no process-wide
// "current case" state.
type Invocation struct {
	CaseID     string
	RunID      string
	NodeID     string
	ActionName string
	Parameters map[string]any
	Timeout    time.Duration
}

// Action is the contract every integration implements. Execute is the only
// suspension point of a node execution: it must honor ctx cancellation and
// the invocation timeout, and report failures as *ActionError.
type Action interface {
	Execute(ctx context.Context, inv Invocation) (*ActionResult, error)
}

// ActionFactory creates action instances from integration configuration.
type ActionFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Action, error)
	ID() string
}
