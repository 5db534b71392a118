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

	"github.com/fractal-lba/healthxai/internal/app"
	"github.com/fractal-lba/healthxai/internal/config"
	"github.com/fractal-lba/healthxai/internal/logging"
	"github.com/fractal-lba/healthxai/pkg/otel"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Tracing is optional
	if cfg.Telemetry.OTelEndpoint != "" {
		tcfg := otel.DefaultConfig("healthxai")
		tcfg.CollectorEndpoint = cfg.Telemetry.OTelEndpoint
		tcfg.SamplingRate = cfg.Telemetry.SamplingRate
		tcfg.Environment = cfg.Telemetry.Environment
		tp, err := otel.InitTracer(context.Background(), tcfg)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer otel.Shutdown(context.Background(), tp)
		}
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise application", "error", err)
		os.Exit(1)
	}

	srv := NewServer(a)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Server.AdminUser == "" || cfg.Server.AdminPass == "" {
		logger.Warn("admin credentials not set, prediction log and metrics routes are disabled")
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "models", a.Registry.Names())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("error closing prediction log", "error", err)
	}

	logger.Info("server stopped")
}
