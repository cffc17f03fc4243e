package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/spoutfi/rwa/backend/internal/config"
	"github.com/spoutfi/rwa/backend/internal/listener"
	"github.com/spoutfi/rwa/backend/internal/logging"
	"github.com/spoutfi/rwa/backend/internal/store"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadListenerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("order-listener", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	st, err := store.NewStore(cfg.DBDSN)
	if err != nil {
		logger.Error("failed to initialize store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("failed to close store", "err", closeErr)
		}
	}()

	svc, err := listener.New(cfg, st, logger)
	if err != nil {
		logger.Error("failed to initialize order listener", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error("order listener exited with error", "err", err)
		os.Exit(1)
	}
}
