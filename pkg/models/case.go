// Package models defines case lifecycle models for incident management.
package models

import (
	"slices"
	"time"
)

// CaseStatus represents the lifecycle state of a security case.
type CaseStatus string

const (
	CaseStatusOpen          CaseStatus = "open"
	CaseStatusInvestigating CaseStatus = "investigating"
	CaseStatusContained     CaseStatus = "contained"
	CaseStatusClosed        CaseStatus = "closed"
	CaseStatusReopened      CaseStatus = "reopened"
)

// Severity represents case severity levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Artifact is a security observable (IOC) associated with a case.
type Artifact struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"  validate:"required,oneof=ip domain hash email url"`
	Value       string    `json:"value" validate:"required"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// Case is a tracked security incident. Only a closed case may be archived.
// All mutation goes through the case manager; runs and the audit trail are
// linked, never embedded.
type Case struct {
	ID          string     `json:"id"       validate:"required"`
	Title       string     `json:"title"    validate:"required"`
	Description string     `json:"description,omitempty"`
	Severity    Severity   `json:"severity" validate:"required,oneof=low medium high critical"`
	Status      CaseStatus `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	RunIDs      []string   `json:"run_ids,omitempty"`

	// RemediationRunID is the run currently holding the remediation lock,
	// empty when the lock is free. Persisted so the recovery sweep can
	// release locks across restarts.
	RemediationRunID string `json:"remediation_run_id,omitempty"`

	Artifacts []*Artifact `json:"artifacts,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

// LinkRun records a run against the case. Idempotent.
func (c *Case) LinkRun(runID string) {
	if !slices.Contains(c.RunIDs, runID) {
		c.RunIDs = append(c.RunIDs, runID)
	}
}

// caseTransitions is the legality table for run-driven transitions. Analyst
// overrides to Closed or Reopened are always legal and checked separately.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusOpen:          {CaseStatusInvestigating, CaseStatusClosed},
	CaseStatusInvestigating: {CaseStatusContained, CaseStatusClosed},
	CaseStatusContained:     {CaseStatusClosed},
	CaseStatusClosed:        {CaseStatusReopened},
	CaseStatusReopened:      {CaseStatusInvestigating, CaseStatusClosed},
}

// CanTransition reports whether a run-driven transition from -> to is legal.
func CanTransition(from, to CaseStatus) bool {
	return slices.Contains(caseTransitions[from], to)
}

// AnalystOverride reports whether from -> to is the analyst override: a
// human may force any case to Closed or Reopened regardless of its current
// status. Self-transitions are not overrides.
func AnalystOverride(from, to CaseStatus) bool {
	if from == to {
		return false
	}

	return to == CaseStatusClosed || to == CaseStatusReopened
}
