package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/internal/api"
	"github.com/pulseboard/pulse/internal/auth"
	"github.com/pulseboard/pulse/internal/cache"
	"github.com/pulseboard/pulse/internal/db"
	"github.com/pulseboard/pulse/internal/feed"
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
	logger.Info("Starting Pulse API Server")

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

	// Initialize Redis cache (nil when disabled)
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis cache", zap.Error(err))
	}
	defer redisCache.Close()

	gateway := cache.NewGateway(db.NewGateway(database.DB), redisCache, &cfg.Redis)

	verifier := auth.NewVerifier(&cfg.Auth)
	if !verifier.Enabled() {
		logger.Warn("No JWT secret configured, all requests are anonymous")
	}

	limits := feed.LimitsFromConfig(cfg.Feed)
	sessions := api.NewSessionManager(func() *feed.Session {
		return feed.NewSession(feed.Deps{
			Gateway:  gateway,
			Identity: auth.ContextProvider{},
			Logger:   logging.WithComponent("feed"),
			Limits:   limits,
		})
	}, cfg.Server.MaxSessions, cfg.Server.SessionTTL)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(api.RequestIDMiddleware())
	engine.Use(api.CORSMiddleware(cfg.Server.AllowedOrigins))
	engine.Use(auth.Middleware(verifier))

	api.NewRouter(sessions, database, redisCache).SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
