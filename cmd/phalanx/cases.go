package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/cmd"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/log"
	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/persistence"
)

func casesCommand() *cli.Command {
	databaseFlag := &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}

	return &cli.Command{
		Name:  "cases",
		Usage: "Inspect and open cases",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List cases, optionally filtered by status or severity",
				Flags: []cli.Flag{
					databaseFlag,
					&cli.StringFlag{Name: "status", Usage: "Filter by case status"},
					&cli.StringFlag{Name: "severity", Usage: "Filter by severity"},
				},
				Action: listCases,
			},
			{
				Name:      "create",
				Usage:     "Open a new case",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					databaseFlag,
					&cli.StringFlag{Name: "severity", Value: "medium", Usage: "low, medium, high or critical"},
					&cli.StringFlag{Name: "description", Usage: "Case description"},
					&cli.StringFlag{Name: "actor", Value: "cli", Usage: "Acting analyst recorded in the ledger"},
				},
				Action: createCase,
			},
		},
	}
}

func withCaseManager(ctx context.Context, command *cli.Command, fn func(*cases.Manager) error) error {
	logger := log.WithModule("cli")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() { _ = store.Close(ctx) }()

	return fn(cases.NewManager(logger, store, ledger.NewLedger(logger, store.Ledger())))
}

func listCases(ctx context.Context, command *cli.Command) error {
	return withCaseManager(ctx, command, func(m *cases.Manager) error {
		opts := persistence.ListCasesOptions{}

		if s := command.String("status"); s != "" {
			status := models.CaseStatus(s)
			opts.Status = &status
		}

		if s := command.String("severity"); s != "" {
			severity := models.Severity(s)
			opts.Severity = &severity
		}

		listed, err := m.List(ctx, opts)
		if err != nil {
			return err
		}

		for _, c := range listed {
			fmt.Printf("%s\t%s\t%s\t%s\n", c.ID, c.Status, c.Severity, c.Title)
		}

		return nil
	})
}

func createCase(ctx context.Context, command *cli.Command) error {
	title := command.Args().First()
	if title == "" {
		return fmt.Errorf("usage: %s <title>", command.FullName())
	}

	return withCaseManager(ctx, command, func(m *cases.Manager) error {
		created, err := m.Create(ctx, title, command.String("description"),
			models.Severity(command.String("severity")), command.String("actor"))
		if err != nil {
			return err
		}

		fmt.Println(created.ID)

		return nil
	})
}
