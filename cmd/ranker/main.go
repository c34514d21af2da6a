package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pulseboard/pulse/internal/db"
	"github.com/pulseboard/pulse/internal/ranker"
	"github.com/pulseboard/pulse/pkg/config"
	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Pulse Ranker")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	topics := db.NewTopicRepository(db.NewRepository(database.DB))
	r := ranker.New(topics, &cfg.Ranker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Ranker stopped", zap.Error(err))
	}

	logger.Info("Ranker exited")
}
