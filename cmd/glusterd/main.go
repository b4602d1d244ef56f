package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"glusterd/internal/configuration"
	"glusterd/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Init(cfg.App.LogLevel)
	slog.Info("starting glusterd", "profile", cfg.App.Profile)

	d, err := NewDaemon(configuration.NewProvider(cfg))
	if err != nil {
		slog.Error("failed to build daemon", "error", err)
		os.Exit(1)
	}
	if err := d.Start(); err != nil {
		slog.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	slog.Info("shutting down glusterd")
	d.Stop()
	slog.Info("glusterd stopped")
}
