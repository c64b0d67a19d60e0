package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayush8285/dealertrack/internal/config"
	"github.com/ayush8285/dealertrack/internal/database"
	"github.com/ayush8285/dealertrack/internal/modules/inventory"
	"github.com/ayush8285/dealertrack/internal/modules/ml"
	"github.com/ayush8285/dealertrack/internal/modules/pipeline"
	syncmod "github.com/ayush8285/dealertrack/internal/modules/sync"
	"github.com/ayush8285/dealertrack/internal/scheduler"
	"github.com/ayush8285/dealertrack/internal/scraper"
	"github.com/ayush8285/dealertrack/internal/server"
	"github.com/ayush8285/dealertrack/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting dealertrack")

	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "inventory.db"),
		Name: "inventory",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Repositories
	vehicleRepo := inventory.NewVehicleRepository(db.Conn(), log)
	historyRepo := inventory.NewHistoryRepository(db.Conn(), log)
	syncLogRepo := inventory.NewSyncLogRepository(db.Conn(), log)
	modelRepo := ml.NewModelRepository(db.Conn(), log)

	// Core components
	lotScraper := scraper.NewDealerScraper(cfg.TargetURL, cfg.ScrapeTimeout, log)
	reconciler := syncmod.New(vehicleRepo, syncLogRepo, log)
	trainer := ml.NewTrainer(ml.TrainerConfig{
		MinSamples: cfg.MinTrainingSamples,
		Seed:       cfg.RandomSeed,
	}, log)
	predictor := ml.NewPredictor(modelRepo, vehicleRepo, log)

	if err := predictor.LoadFromStore(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load persisted model")
	}

	orchestrator := pipeline.NewOrchestrator(lotScraper, reconciler, trainer, predictor, vehicleRepo, log)

	// Scheduled syncs
	sched := scheduler.New(log)
	syncJob := pipeline.NewSyncJob(orchestrator, log)
	if err := sched.AddJob(fmt.Sprintf("@every %s", cfg.SyncInterval), syncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register sync job")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP surface
	inventoryHandler := inventory.NewHandler(vehicleRepo, historyRepo, predictor, log)
	mlHandler := ml.NewHandler(predictor, vehicleRepo, log)
	pipelineHandler := pipeline.NewHandler(orchestrator, syncLogRepo, log)

	srv := server.New(server.Config{
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Log:          log,
		DB:           db,
		Inventory:    inventoryHandler,
		ML:           mlHandler,
		Pipeline:     pipelineHandler,
		Predictor:    predictor,
		Orchestrator: orchestrator,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
