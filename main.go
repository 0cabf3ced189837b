package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoLedger/config"
	"cryptoLedger/internal/api"
	"cryptoLedger/internal/bootstrap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize logger, ledger, exchange clients and services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize runtime: %v", err)
	}
	defer rt.Close()
	appLogger := rt.Logger

	// 3. Initialize API server
	var ingest api.IngestServiceInterface
	if rt.HasAccounts() {
		ingest = rt.Ingest
	} else {
		appLogger.Warn(ctx, "No owners configured; POST /api/ingest is disabled")
	}
	server, err := api.NewServer(&api.ServerConfig{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  2 * cfg.HTTPReadTimeout,
		DefaultMode:  cfg.IngestMode,
	}, rt.Reports, ingest, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize API server")
		return
	}

	// 4. Serve until a signal arrives
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			appLogger.Error(context.Background(), err, "API server exited with error")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, err, "Graceful shutdown failed")
		}
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
