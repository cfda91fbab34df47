package cases

import (
	"errors"
	"fmt"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

var (
	// ErrLockConflict means another run already holds the case's
	// remediation lock. Callers fail fast; there is no queueing.
	ErrLockConflict = errors.New("remediation lock already held")

	// ErrLockNotHeld means a release was attempted by a run that does not
	// hold the lock.
	ErrLockNotHeld = errors.New("remediation lock not held by this run")
)

// TransitionError reports an illegal case status transition.
type TransitionError struct {
	CaseID string
	From   models.CaseStatus
	To     models.CaseStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for case %s: %s -> %s", e.CaseID, e.From, e.To)
}
