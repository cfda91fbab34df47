package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/phalanx-soar/phalanx/pkg/cases"
	"github.com/phalanx-soar/phalanx/pkg/cmd"
	"github.com/phalanx-soar/phalanx/pkg/compiler"
	"github.com/phalanx-soar/phalanx/pkg/engine"
	"github.com/phalanx-soar/phalanx/pkg/events"
	"github.com/phalanx-soar/phalanx/pkg/intake"
	"github.com/phalanx-soar/phalanx/pkg/intake/queue"
	"github.com/phalanx-soar/phalanx/pkg/intake/schedule"
	"github.com/phalanx-soar/phalanx/pkg/ledger"
	"github.com/phalanx-soar/phalanx/pkg/log"
	"github.com/phalanx-soar/phalanx/pkg/otelhelper"
	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

func runDaemon(ctx context.Context, command *cli.Command, engineID string) error {
	logger := log.WithModule("engine").With("engine_id", engineID)

	logger.InfoContext(ctx, "Initializing Phalanx Engine")

	if command.Bool("tracing") {
		if _, err := otelhelper.NewTracer(ctx, "phalanx-engine"); err != nil {
			return err
		}
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	auditLedger := ledger.NewLedger(logger, store.Ledger())
	caseManager := cases.NewManager(logger, store, auditLedger)

	cache, err := compiler.NewCache(0)
	if err != nil {
		return err
	}

	eng := engine.NewEngine(ctx, logger, engine.Config{
		EngineID:             engineID,
		MaxConcurrentActions: command.Int("max-concurrent-actions"),
	}, store, cache, cmd.NewRegistry(logger), caseManager, auditLedger, bus)

	if err := eng.Recover(ctx); err != nil {
		return err
	}

	if err := caseManager.RecoverLocks(ctx); err != nil {
		return err
	}

	if err := bus.Handle(events.RunRequestedEvent, eng.HandleRunRequested); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return err
	}

	sources, err := buildSources(logger, command)
	if err != nil {
		return err
	}

	dispatcher := intake.NewDispatcher(logger, caseManager, eng)

	for _, source := range sources {
		if err := source.Start(ctx, dispatcher.Handle); err != nil {
			return err
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-signalCtx.Done()

	logger.InfoContext(ctx, "Shutting down")

	for _, source := range sources {
		if err := source.Stop(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to stop intake source", "error", err)
		}
	}

	return eng.Shutdown(ctx)
}

// buildSources assembles the configured intake sources. Each one is
// validated before the daemon starts consuming.
func buildSources(logger *slog.Logger, command *cli.Command) ([]protocol.IntakeSource, error) {
	var sources []protocol.IntakeSource

	if queueName := command.String("queue-name"); queueName != "" {
		source, err := queue.NewSource(logger, queue.Config{
			Addr:  command.String("queue-addr"),
			Queue: queueName,
		})
		if err != nil {
			return nil, err
		}

		sources = append(sources, source)
	}

	if path := command.String("schedules"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var entries []schedule.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}

		source, err := schedule.NewSource(logger, entries)
		if err != nil {
			return nil, err
		}

		sources = append(sources, source)
	}

	for _, source := range sources {
		if err := source.Validate(); err != nil {
			return nil, err
		}
	}

	return sources, nil
}
