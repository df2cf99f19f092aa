package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/memochat/memochat/pkg/config"
	"github.com/memochat/memochat/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if path, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "path", path, "error", err)
	}

	cfg, path, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.UploadDir(), 0o755); err != nil {
		logger.Error("Failed to create upload dir", "dir", cfg.UploadDir(), "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg)
	if err := server.SetupRoutes(ctx); err != nil {
		logger.Error("Failed to set up server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
