// Perks - escrow-backed payments for the employee perks marketplace
package main

import (
	"context"
	"os"

	"github.com/Adam-Maverick/perks-app-sub000/internal/config"
	"github.com/Adam-Maverick/perks-app-sub000/internal/logging"
	"github.com/Adam-Maverick/perks-app-sub000/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting perks",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"provider", cfg.SettlementProvider,
		"grace_days", cfg.GraceDays,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
