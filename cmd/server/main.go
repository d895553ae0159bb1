// Package main is the entry point of the KnowEx API server.
//
// main only reads configuration, builds the logger and hands over to
// internal/server. All logic lives in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/knowex/knowex-api/internal/config"
	"github.com/knowex/knowex-api/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// JWT_SECRET must be a long random string:
	//   JWT_SECRET=$(openssl rand -hex 32)
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET not set; refusing to start without a signing key")
		os.Exit(1)
	}

	backends, err := server.OpenBackends(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to open backends", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := server.New(cfg, backends, logger)
	if err != nil {
		backends.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
