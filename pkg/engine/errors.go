package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotActive means the run is not being coordinated by this
	// engine instance and cannot be cancelled here.
	ErrRunNotActive = errors.New("run is not active on this engine")

	// ErrRunFinished means the run already reached a terminal status.
	ErrRunFinished = errors.New("run already finished")

	// ErrNotSuspended means resume was called on a run that is not
	// suspended.
	ErrNotSuspended = errors.New("run is not suspended")
)

// MissingInputError reports a declared playbook input absent from the
// trigger payload.
type MissingInputError struct {
	PlaybookID string
	Input      string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("playbook %s requires input %q", e.PlaybookID, e.Input)
}

// UnknownActionError reports a playbook referencing an action type no
// registered integration provides.
type UnknownActionError struct {
	NodeID     string
	ActionType string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("node %s references unregistered action type %q", e.NodeID, e.ActionType)
}
