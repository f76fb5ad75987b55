package main

import (
	"fmt"

	"github.com/nebari-dev/labgate/internal/config"
	"github.com/nebari-dev/labgate/internal/logger"
	"github.com/nebari-dev/labgate/internal/server"
)

// openApp loads configuration and wires the application for a one-shot command.
func openApp() (*server.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	// keep command output readable; the server logs at the configured level
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)
	return server.Open(cfg)
}
