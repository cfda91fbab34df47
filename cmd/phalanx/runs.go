package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/phalanx-soar/phalanx/pkg/cmd"
	"github.com/phalanx-soar/phalanx/pkg/events"
	"github.com/phalanx-soar/phalanx/pkg/log"
	"github.com/phalanx-soar/phalanx/pkg/web"
)

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Trigger and inspect playbook runs",
		Commands: []*cli.Command{
			{
				Name:  "trigger",
				Usage: "Publish a run request for an engine instance to pick up",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "playbook", Required: true, Usage: "Playbook ID"},
					&cli.StringFlag{Name: "case", Required: true, Usage: "Case ID to run against"},
					&cli.IntFlag{Name: "playbook-version", Usage: "Playbook version (latest when omitted)"},
					&cli.StringFlag{Name: "inputs", Usage: "Run inputs as a JSON object"},
					&cli.StringFlag{
						Name:    "event-bus",
						Usage:   "Event bus provider (kafka, gochannel)",
						Value:   "kafka",
						Sources: cli.EnvVars("EVENT_BUS_TYPE"),
					},
				},
				Action: triggerRun,
			},
			{
				Name:      "status",
				Usage:     "Print a run snapshot",
				ArgsUsage: "<run-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "database-url",
						Usage:    "Database connection URL for persistence",
						Required: true,
						Sources:  cli.EnvVars("DATABASE_URL"),
					},
				},
				Action: runStatus,
			},
		},
	}
}

func triggerRun(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("cli")

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() { _ = bus.Close() }()

	var inputs map[string]any

	if raw := command.String("inputs"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
			return fmt.Errorf("inputs must be a JSON object: %w", err)
		}
	}

	caseID := command.String("case")

	event := events.RunRequested{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.RunRequestedEvent,
			Timestamp: time.Now().UTC(),
			CaseID:    caseID,
		},
		PlaybookID:      command.String("playbook"),
		PlaybookVersion: command.Int("playbook-version"),
		Inputs:          inputs,
	}

	if err := bus.Publish(ctx, caseID, event); err != nil {
		return err
	}

	fmt.Println("requested", event.PlaybookID, "on", caseID)

	return nil
}

func runStatus(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("cli")

	runID := command.Args().First()
	if runID == "" {
		return fmt.Errorf("usage: %s <run-id>", command.FullName())
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() { _ = store.Close(ctx) }()

	run, err := store.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(web.SnapshotRun(run), "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}
