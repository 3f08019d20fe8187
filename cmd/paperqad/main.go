package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/paperqa/internal/app"
	"github.com/knoguchi/paperqa/internal/config"
	"github.com/knoguchi/paperqa/internal/server"
	"github.com/knoguchi/paperqa/internal/telemetry"
)

const healthInterval = 30 * time.Second

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting paper QA service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"vector_backend", cfg.VectorBackend,
		"candidates_k", cfg.CandidatesK,
		"final_k", cfg.FinalK,
		"rerank_enabled", cfg.RerankEnabled,
	)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "paperqad",
		Environment: cfg.Environment,
		Disable:     !cfg.OTelEnabled,
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	// Create gRPC server
	grpcServer, err := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	httpCfg := server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Pipeline:       a.Pipeline,
		Papers:         a.Retriever,
	}
	if a.QueryLog != nil {
		httpCfg.QueryLog = a.QueryLog
	}
	httpServer, err := server.NewHTTPServer(httpCfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go grpcServer.MonitorHealth(ctx, healthInterval, func(ctx context.Context) bool {
		return a.Pipeline.HealthCheck(ctx).Overall
	})

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}
	cancel()

	// Graceful shutdown
	slog.Info("shutting down servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown gRPC server", "error", err)
	}

	slog.Info("servers stopped")
	return nil
}
