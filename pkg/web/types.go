// Package web provides the HTTP API surface: case management, playbook
// upload, and run control.
package web

import (
	"github.com/phalanx-soar/phalanx/pkg/models"
)

// CreateCaseRequest is the body for opening a new case.
type CreateCaseRequest struct {
	Title       string `json:"title"       validate:"required"`
	Description string `json:"description"`
	Severity    string `json:"severity"    validate:"required,oneof=low medium high critical"`
}

// TransitionCaseRequest moves a case to a new lifecycle status.
type TransitionCaseRequest struct {
	Status string `json:"status" validate:"required,oneof=open investigating contained closed reopened"`
}

// AssignCaseRequest sets the case assignee.
type AssignCaseRequest struct {
	Assignee string `json:"assignee" validate:"required"`
}

// CommentRequest appends an analyst comment to the case audit trail.
type CommentRequest struct {
	Text string `json:"text" validate:"required"`
}

// ArtifactRequest attaches an observable to a case.
type ArtifactRequest struct {
	Type        string   `json:"type"  validate:"required,oneof=ip domain hash email url"`
	Value       string   `json:"value" validate:"required"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// StartRunRequest triggers a playbook run against a case.
type StartRunRequest struct {
	PlaybookID      string         `json:"playbook_id" validate:"required"`
	PlaybookVersion int            `json:"playbook_version,omitempty"`
	CaseID          string         `json:"case_id"     validate:"required"`
	Inputs          map[string]any `json:"inputs,omitempty"`
}

// EventsResponse pages through a case's ledger. NextOffset feeds the next
// request's since parameter for gap-free consumption.
type EventsResponse struct {
	Events     []*models.AuditEvent `json:"events"`
	NextOffset int64                `json:"next_offset"`
}

// SnapshotRun builds the externally observable view of a run.
func SnapshotRun(run *models.Run) models.RunSnapshot {
	return models.RunSnapshot{
		RunID:           run.ID,
		CaseID:          run.CaseID,
		PlaybookID:      run.PlaybookID,
		PlaybookVersion: run.PlaybookVersion,
		Status:          run.Status,
		Bindings:        run.Bindings,
		NodesExecuted:   len(run.Executions),
		Error:           run.Error,
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
	}
}
