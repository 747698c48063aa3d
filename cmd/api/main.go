package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/app"
	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/logging"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer application.Close()

	logger.Info("newsroom processor is running", zap.String("port", cfg.Port))
	if err := application.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("shut down cleanly")
}
