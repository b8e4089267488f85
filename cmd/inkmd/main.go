package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkmd/inkmd/internal/api"
	"github.com/inkmd/inkmd/internal/backend"
	"github.com/inkmd/inkmd/internal/config"
	"github.com/inkmd/inkmd/internal/convert"
	"github.com/inkmd/inkmd/internal/history"
	"github.com/inkmd/inkmd/internal/repository"
	"github.com/inkmd/inkmd/internal/settings"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database (history + settings cache)
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	historyRepo := repository.NewHistoryRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// Converter backend client
	converter := backend.NewClient(cfg.Converter.BaseURL, cfg.Converter.RequestTimeout)

	// History store
	historyStore, err := history.NewStore(historyRepo, cfg.History.Cap, logger)
	if err != nil {
		logger.Fatal("Failed to load history", zap.Error(err))
	}

	// Settings synchronizer
	synchronizer := settings.NewSynchronizer(converter, settingsRepo, cfg.Settings.CacheTTL, logger)

	// Websocket hub for live queue updates
	hub := api.NewHub(logger)
	hub.Start()

	// Conversion controller
	controller := convert.NewController(
		converter,
		historyStore,
		cfg.Converter.RequestTimeout,
		logger,
		convert.WithPollInterval(cfg.Converter.PollInterval),
		convert.WithNotify(hub.BroadcastState),
	)

	// Setup router
	router := api.SetupRouter(
		api.NewQueueHandler(controller),
		api.NewHistoryHandler(historyStore),
		api.NewSettingsHandler(synchronizer),
		api.NewExportHandler(converter),
		hub,
		api.RouterConfig{
			APIKey:       cfg.Admin.APIKey,
			AllowOrigins: cfg.Server.AllowOrigins,
		},
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting inkmd server",
			zap.String("address", cfg.Address()),
			zap.String("converter", cfg.Converter.BaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
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
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Stop the conversion loop and the websocket fan-out
	controller.Close()
	hub.Stop()

	logger.Info("Server exited")
}
