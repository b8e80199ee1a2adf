// Package main starts the backend HTTP server.
//
// main stays minimal on purpose: load configuration, build the composition
// root, run it. Everything interesting lives in internal/.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sakif/pathfit-backend/internal/config"
	"github.com/sakif/pathfit-backend/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(context.Background())
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
