package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/phalanx-soar/phalanx/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "phalanx",
		Usage:                 "Manage playbooks and cases",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			playbooksCommand(),
			casesCommand(),
			runsCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
