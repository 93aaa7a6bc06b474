package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nfrund/orgchat/internal/app"
	"github.com/nfrund/orgchat/internal/config"
	"github.com/nfrund/orgchat/internal/logging"
	"github.com/nfrund/orgchat/internal/server"
)

func main() {
	logging.New()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	deps, err := app.Build(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			slog.Error("Failed to release dependencies", "error", err)
		}
	}()

	s, err := server.New(cfg, deps.Store, deps.Bus)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	if err := s.Start(); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}
}
