// Package main is the entry point for the SMS dispatch API server.
//
// It loads configuration, wires the dispatch pipeline, mounts the core
// chassis (health, metrics, manual trigger endpoints) and, unless
// SCHEDULER_ENABLED=false, runs the scheduler and reclaimer on in-process
// tickers. SIGINT and SIGTERM stop the tickers, drain the HTTP server and
// close the pools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smsdispatch/internal/app"
	"smsdispatch/internal/config"
	"smsdispatch/internal/core"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	provider, err := secretProvider()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("smsdispatch API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := context.Background()
	pipeline, err := app.New(ctx, cfg, logger, dispatch.NewPrometheusMetrics(reg))
	if err != nil {
		return fmt.Errorf("wiring pipeline: %w", err)
	}

	srv, err := buildServer(cfg, pipeline, reg, logger)
	if err != nil {
		pipeline.Close()
		return err
	}

	tickers, err := startTickers(cfg.Scheduler, pipeline, logger)
	if err != nil {
		pipeline.Close()
		return err
	}

	return runHTTPServer(srv, tickers, cfg, logger)
}

// buildServer mounts the chassis with bearer auth, health probes and the
// Prometheus endpoint.
func buildServer(cfg *config.Config, pipeline *app.App, reg *prometheus.Registry, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, pipeline.Runner, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	authenticator, err := newAuthenticator(cfg, logger)
	if err != nil {
		return nil, err
	}
	if authenticator != nil {
		srv.Authenticator = authenticator
	}

	srv.Metrics = core.NewPrometheusCollector(reg)
	srv.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("database", pipeline.Pool))
	if pipeline.Receipts != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("redis", pipeline.Receipts))
	}
	srv.OnShutdown(pipeline.Close)

	srv.MountRoutes()
	return srv, nil
}

// newAuthenticator returns nil only in local without a configured hash.
// Config validation already rejects a missing hash elsewhere.
func newAuthenticator(cfg *config.Config, logger *slog.Logger) (*core.BearerTokenAuthenticator, error) {
	hash := cfg.Security.TriggerTokenHash.Unmask()
	if hash == "" {
		logger.Warn("TRIGGER_TOKEN_HASH not set; trigger endpoints are unauthenticated (local only)")
		return nil, nil
	}
	auth, err := core.NewBearerTokenAuthenticator(hash)
	if err != nil {
		return nil, fmt.Errorf("configuring trigger authentication: %w", err)
	}
	return auth, nil
}

// startTickers starts the scheduler and reclaimer tickers when enabled.
func startTickers(cfg config.SchedulerConfig, pipeline *app.App, logger *slog.Logger) ([]*scheduler.Ticker, error) {
	if !cfg.Enabled {
		logger.Info("in-process scheduler disabled")
		return nil, nil
	}

	dispatchTicker, err := scheduler.NewTicker("process_scheduled", cfg.Interval, scheduler.SchedulerTick(pipeline.Scheduler), logger)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler ticker: %w", err)
	}
	reclaimTicker, err := scheduler.NewTicker("reclaim_stuck", cfg.ReclaimInterval, scheduler.ReclaimTick(pipeline.Reclaimer), logger)
	if err != nil {
		return nil, fmt.Errorf("creating reclaim ticker: %w", err)
	}

	tickers := []*scheduler.Ticker{dispatchTicker, reclaimTicker}
	for _, t := range tickers {
		t.Start()
	}
	return tickers, nil
}

func runHTTPServer(srv *core.Server, tickers []*scheduler.Ticker, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	// Stop tickers first so no pass starts against a closing pool.
	for _, t := range tickers {
		t.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return errors.Join(runErr, fmt.Errorf("server shutdown: %w", err))
	}

	logger.Info("server stopped cleanly")
	return runErr
}

// secretProvider returns nil in local, where SSM resolution is skipped.
func secretProvider() (config.SecretProvider, error) {
	if os.Getenv("APP_ENV") == "local" {
		return nil, nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
