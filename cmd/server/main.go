// Package main is the entry point for the tradebook analytics scheduler.
// It wires the journal and queue databases, the durable queue broker, the
// analysis dispatcher, and the HTTP API, then runs until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skarveli/tradebook/internal/analysis"
	"github.com/skarveli/tradebook/internal/config"
	"github.com/skarveli/tradebook/internal/database"
	"github.com/skarveli/tradebook/internal/dispatcher"
	"github.com/skarveli/tradebook/internal/events"
	"github.com/skarveli/tradebook/internal/journal"
	"github.com/skarveli/tradebook/internal/queue"
	"github.com/skarveli/tradebook/internal/registry"
	"github.com/skarveli/tradebook/internal/results"
	"github.com/skarveli/tradebook/internal/scheduler"
	"github.com/skarveli/tradebook/internal/server"
	"github.com/skarveli/tradebook/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet; stderr is all we have.
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Int("workers", cfg.WorkerCount).
		Msg("Tradebook starting")

	journalDB, err := database.New(database.Config{
		Path:    cfg.JournalDBPath(),
		Profile: database.ProfileStandard,
		Name:    "journal",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open journal database")
	}
	defer journalDB.Close()

	queueDB, err := database.New(database.Config{
		Path:    cfg.QueueDBPath(),
		Profile: database.ProfileQueue,
		Name:    "queue",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open queue database")
	}
	defer queueDB.Close()

	tradeRepo := journal.NewTradeRepository(journalDB.Conn(), log)
	if err := tradeRepo.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate trades schema")
	}
	registryRepo := registry.NewRepository(journalDB.Conn(), log)
	resultsRepo := results.NewRepository(journalDB.Conn(), log)
	if err := resultsRepo.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate analysis results schema")
	}

	bus := events.NewBus(log)

	store := queue.NewStore(queueDB.Conn(), log)
	broker := queue.NewBroker(store, bus, queue.BrokerConfig{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
	}, log)

	engine := analysis.NewStatsEngine(tradeRepo, log)
	disp := dispatcher.New(registryRepo, resultsRepo, engine, log)
	disp.Register(broker)

	facade := scheduler.New(registryRepo, broker, bus, tradeRepo, log)
	facade.SetSweepBatchSize(cfg.SweepBatchSize)
	if err := facade.EnsureReady(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer broker.Stop()

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := facade.Reconcile(startupCtx); err != nil {
		log.Error().Err(err).Msg("Startup reconciliation failed")
	}
	cancel()
	if err := facade.RegisterCalendarSweeps(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register calendar sweeps")
	}

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Facade:   facade,
		Results:  resultsRepo,
		EventBus: bus,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	broker.Stop()
	log.Info().Msg("Tradebook stopped")
}
