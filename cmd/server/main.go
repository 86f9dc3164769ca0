// Package main is the entry point for the care assignment server.
//
// It only reads configuration, builds the logger and hands both to
// internal/server. Everything else lives in internal packages.
//
// Usage:
//
//	care-assign -config config.yaml
//	CARE_JWT_SECRET=... CARE_ADMIN_PASSWORD=... care-assign
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/care-assign/internal/config"
	"github.com/sakif/care-assign/internal/logging"
	"github.com/sakif/care-assign/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("CARE_CONFIG"), "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	// SQLite creates the file but not its directory.
	if cfg.Database.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if cfg.Auth.AdminPassword == "" {
		logger.Warn("CARE_ADMIN_PASSWORD not set; no operator is provisioned at start-up")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
