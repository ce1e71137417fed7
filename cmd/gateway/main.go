package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/app"
	"github.com/opswatch/llm-orchestrator/config"
	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/observability"
	"github.com/opswatch/llm-orchestrator/routes"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Environment, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize dependencies", zap.Error(err))
	}

	var watcher *config.Watcher
	if cfg.Providers.WatchEnabled {
		watcher, err = config.NewWatcher(cfg.Providers.File, func(specs []models.ProviderSpec) {
			if err := deps.Reload(specs); err != nil {
				logger.Error("provider reload rejected", zap.Error(err))
			}
		}, logger)
		if err != nil {
			logger.Fatal("failed to start provider file watcher", zap.Error(err))
		}
		watcher.Start()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("gateway listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown failed", zap.Error(err))
	}

	logger.Info("gateway stopped")
}
