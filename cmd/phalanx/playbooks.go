package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/phalanx-soar/phalanx/pkg/cmd"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/log"
	"github.com/phalanx-soar/phalanx/pkg/models"
)

func playbooksCommand() *cli.Command {
	return &cli.Command{
		Name:    "playbooks",
		Aliases: []string{"pb"},
		Usage:   "Validate and publish playbook definitions",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Compile a playbook document without storing it",
				ArgsUsage: "<file>",
				Action:    validatePlaybook,
			},
			{
				Name:      "push",
				Usage:     "Compile and store a new playbook version",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "database-url",
						Usage:    "Database connection URL for persistence",
						Required: true,
						Sources:  cli.EnvVars("DATABASE_URL"),
					},
				},
				Action: pushPlaybook,
			},
		},
	}
}

func loadDefinition(command *cli.Command) (*models.PlaybookDefinition, error) {
	path := command.Args().First()
	if path == "" {
		return nil, fmt.Errorf("usage: %s <file>", command.FullName())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	def, err := compiler.ParseDefinition(data)
	if err != nil {
		return nil, err
	}

	if _, err := compiler.Compile(def); err != nil {
		return nil, err
	}

	return def, nil
}

func validatePlaybook(_ context.Context, command *cli.Command) error {
	def, err := loadDefinition(command)
	if err != nil {
		return err
	}

	fmt.Printf("%s@v%d is valid (%d nodes, %d edges)\n", def.ID, def.Version, len(def.Nodes), len(def.Edges))

	return nil
}

func pushPlaybook(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), "text")

	def, err := loadDefinition(command)
	if err != nil {
		return err
	}

	store, err := cmd.NewPersistence(ctx, log.WithModule("cli"), command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() { _ = store.Close(ctx) }()

	def.CreatedAt = time.Now().UTC()

	if err := store.Playbooks().Save(ctx, def); err != nil {
		return err
	}

	fmt.Printf("stored %s@v%d\n", def.ID, def.Version)

	return nil
}
