// Package schedule triggers playbook runs on cron expressions. Scheduled
// entries cover sweeps that are not alert-driven, like stale-case checks or
// recurring threat-intel refreshes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

// Entry is one scheduled trigger. CaseID may be empty, in which case the
// dispatcher creates a fresh case per firing.
type Entry struct {
	PlaybookID string         `json:"playbook_id"`
	Cron       string         `json:"cron"`
	CaseID     string         `json:"case_id,omitempty"`
	CaseTitle  string         `json:"case_title,omitempty"`
	Severity   string         `json:"severity,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
}

// Source runs all entries on one shared cron scheduler.
type Source struct {
	entries  []Entry
	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewSource(logger *slog.Logger, entries []Entry) (*Source, error) {
	source := &Source{
		entries: entries,
		logger:  logger.With("module", "schedule_intake"),
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

func (s *Source) Validate() error {
	for _, entry := range s.entries {
		if entry.PlaybookID == "" {
			return errors.New("schedule entry requires a playbook_id")
		}

		if entry.Cron == "" {
			return fmt.Errorf("schedule entry for %s requires a cron expression", entry.PlaybookID)
		}

		if _, err := cron.ParseStandard(entry.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q for %s: %w", entry.Cron, entry.PlaybookID, err)
		}
	}

	return nil
}

func (s *Source) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	s.callback = callback

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	for _, entry := range s.entries {
		entry := entry

		id, err := s.cron.AddFunc(entry.Cron, func() { s.fire(entry) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", entry.PlaybookID, err)
		}

		s.logger.InfoContext(ctx, "Scheduled playbook",
			"playbook_id", entry.PlaybookID, "cron", entry.Cron, "job_id", id)
	}

	s.cron.Start()

	return nil
}

func (s *Source) fire(entry Entry) {
	ctx := context.Background()

	inputs := make(map[string]any, len(entry.Inputs)+1)
	for k, v := range entry.Inputs {
		inputs[k] = v
	}

	inputs["scheduled_at"] = time.Now().UTC().Format(time.RFC3339)

	err := s.callback(ctx, protocol.TriggerRequest{
		PlaybookID: entry.PlaybookID,
		CaseID:     entry.CaseID,
		CaseTitle:  entry.CaseTitle,
		Severity:   entry.Severity,
		Inputs:     inputs,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled trigger failed",
			"playbook_id", entry.PlaybookID, "error", err)
	}
}

func (s *Source) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping schedule intake")

	if s.cron != nil {
		stopCtx := s.cron.Stop()

		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
