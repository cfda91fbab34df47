package protocol

import "context"

// TriggerRequest is what an intake source hands the run trigger callback:
// which playbook to run, the case to bind it to (or enough to create one),
// and the declared run inputs.
type TriggerRequest struct {
	PlaybookID string         `json:"playbook_id"`
	CaseID     string         `json:"case_id,omitempty"`
	CaseTitle  string         `json:"case_title,omitempty"`
	Severity   string         `json:"severity,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
}

// TriggerCallback receives trigger requests emitted by an intake source.
type TriggerCallback func(ctx context.Context, req TriggerRequest) error

// IntakeSource is a long-running source of run triggers (alert queue,
// schedule). Sources never start runs themselves; they only emit requests
// through the callback.
type IntakeSource interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate() error
}
