package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ichi0g0y/giveaway-engine/internal/env"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/version"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	if err := env.LoadEnv(); err != nil {
		logger.Fatal("Failed to load environment", zap.Error(err))
	}
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	logger.Info("Starting giveaway engine", zap.String("version", version.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, env.Value)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	if err := app.server.Start(); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}
	go app.hub.Run(ctx)

	logger.Info("Server started",
		zap.Int("port", env.Value.ServerPort),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api/", env.Value.ServerPort)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%d/ws", env.Value.ServerPort)))

	// スケジューラはシグナルで止まり、最後に永続化してから戻る
	if err := app.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Scheduler stopped with error", zap.Error(err))
	}

	logger.Info("Shutting down...")
	app.server.Shutdown(context.Background())
	app.close()
	logger.Info("Shutdown complete")
}
