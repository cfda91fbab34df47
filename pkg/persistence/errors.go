// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrPlaybookNotFound indicates no playbook exists for the identifier.
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrCaseNotFound indicates a case was not found by the given identifier.
	ErrCaseNotFound = errors.New("case not found")

	// ErrPlaybookVersionExists indicates a save targeted an (id, version)
	// pair that is already stored. Versions are immutable; publishing a
	// change requires a version bump.
	ErrPlaybookVersionExists = errors.New("playbook version already exists")

	// ErrStorageUnavailable indicates the backing store cannot currently be
	// reached. The engine reacts by suspending the affected run.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// StoreError wraps storage failures with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g. "SaveRun", "Append")
	Key string // Entity identifier if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlaybookNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrCaseNotFound)
}

// IsUnavailable reports whether err indicates the store is unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
