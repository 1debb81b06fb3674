package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sellkit/connector/internal/config"
	"github.com/sellkit/connector/internal/gateway"
	"github.com/sellkit/connector/internal/pipeline"
	"github.com/sellkit/connector/internal/registry"
	"github.com/sellkit/connector/internal/responder"
	"github.com/sellkit/connector/internal/store"
	"github.com/sellkit/connector/internal/supervisor"
	"github.com/sellkit/connector/internal/whatsapp"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration (.env is optional)
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshotStore := store.New(cfg.SnapshotFile, cfg.AuthDir)
	brain := gateway.New(cfg.WebhookURL, cfg.WebhookToken, cfg.WebhookTimeout)
	clientFactory := whatsapp.NewFactory(cfg.AuthDir)

	reg := registry.New(snapshotStore, clientFactory, brain, cfg.ConnectTimeout)
	pipe := pipeline.New(brain, responder.New())
	fleet := supervisor.New(cfg, snapshotStore, reg, pipe)

	if err := fleet.Initialize(ctx); err != nil {
		slog.Error("failed to initialize fleet", "error", err)
		os.Exit(1)
	}

	slog.Info("connector started", "webhook_url", cfg.WebhookURL)
	<-ctx.Done()

	// Graceful shutdown
	fleet.Shutdown(context.Background())
	slog.Info("connector stopped gracefully")
}
