package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hindsight.systems/hindsight/cmd/web/internal/web"
	"hindsight.systems/hindsight/internal/application"
	"hindsight.systems/hindsight/internal/config"
	"hindsight.systems/hindsight/internal/db"
	"hindsight.systems/hindsight/internal/ingest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting hindsight web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	if err := dbc.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	runner := ingest.NewRunner(dbc)
	server := web.NewWebserver(conf, dbc, runner)

	go func() {
		slog.Info("Webserver listening", "addr", server.ListenAddr())
		if err := server.Start(server.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webserver stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	// Let an active run reach its next safe point before the process goes.
	runner.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("webserver shutdown failed", "error", err)
	}
}
