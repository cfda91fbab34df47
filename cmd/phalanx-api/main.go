package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/cmd"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/engine"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/log"
	"github.com/phalanx-soar/phalanx/pkg/web"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "phalanx-api",
		Usage:                 "Serve the case, playbook and run HTTP API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Phalanx API")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	auditLedger := ledger.NewLedger(logger, store.Ledger())
	caseManager := cases.NewManager(logger, store, auditLedger)

	cache, err := compiler.NewCache(0)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(ctx, logger, engine.Config{}, store, cache, cmd.NewRegistry(logger), caseManager, auditLedger, nil)

	app := web.NewApp(web.NewHandlers(logger, store, caseManager, eng, auditLedger))

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", command.Int("port")))
	}()

	select {
	case err := <-errCh:
		return err
	case <-signalCtx.Done():
		logger.InfoContext(ctx, "Shutting down")

		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to stop HTTP server", "error", err)
		}

		return eng.Shutdown(ctx)
	}
}
