// Package main implements the relogger entry point: resolve rules into a
// flow table, start the relay engine, and run until a shutdown signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caesar0301/relogger/config"
	"github.com/caesar0301/relogger/errors"
	"github.com/caesar0301/relogger/flowtable"
	"github.com/caesar0301/relogger/metric"
	"github.com/caesar0301/relogger/relay"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "relogger"
)

// statusInterval is how often flow health is reported while running.
const statusInterval = 30 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("relogger failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()
	if err := validateFlags(cfg); err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	rules, err := loadRules(cfg)
	if err != nil {
		return err
	}

	table, err := flowtable.Build(rules, flowtable.Deps{Logger: logger})
	if err != nil {
		return err
	}
	if err := checkPrivilege(table); err != nil {
		return err
	}

	if cfg.Validate {
		logger.Info("rules are valid", "flows", table.Len())
		return nil
	}

	registry := metric.NewRegistry()
	metrics, err := relay.NewMetrics(registry)
	if err != nil {
		return err
	}
	if cfg.MetricsPort > 0 {
		serveMetrics(registry, cfg.MetricsPort, logger)
	}

	server := relay.NewServer(relay.Deps{
		Table:   table,
		Logger:  logger,
		Metrics: metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("relay running", "flows", table.Len())

	go reportStatus(ctx, server, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return server.Stop(cfg.ShutdownTimeout)
}

// loadRules resolves either the rule file or the single command-line rule.
func loadRules(cfg *CLIConfig) ([]config.Rule, error) {
	if cfg.ConfigPath != "" {
		return config.LoadFile(cfg.ConfigPath)
	}

	opts := config.Options{
		ListenHosts: cfg.ListenHosts,
		ListenPorts: cfg.ListenPorts,
		DestHosts:   cfg.DestHosts,
		WriteFile:   cfg.WriteFile,
		SourceProto: cfg.Transport,
		DestProto:   cfg.Transport,
	}
	switch {
	case cfg.FollowFile != "":
		opts.ReadFile = cfg.FollowFile
		opts.Follow = true
	case cfg.ReplayFile != "":
		opts.ReadFile = cfg.ReplayFile
	}

	rule, err := config.FromOptions(opts)
	if err != nil {
		return nil, err
	}
	return []config.Rule{rule}, nil
}

// checkPrivilege halts startup before any adapter opens when the table
// needs a low port and the process cannot bind one.
func checkPrivilege(table *flowtable.Table) error {
	if !table.RequiresPrivilege() {
		return nil
	}
	if os.Geteuid() == 0 {
		return nil
	}
	return errors.WrapFatal(
		fmt.Errorf("binding a port below 1024 requires elevated rights: %w", errors.ErrPermissionDenied),
		"main", "checkPrivilege", "privilege check")
}

// serveMetrics exposes the prometheus registry over HTTP.
func serveMetrics(registry *metric.Registry, port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	addr := fmt.Sprintf(":%d", port)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

// reportStatus logs flow health periodically until shutdown.
func reportStatus(ctx context.Context, server *relay.Server, logger *slog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, fs := range server.Status() {
				attrs := []any{"flow", fs.Name, "state", fs.State.String()}
				switch fs.State {
				case relay.FlowDegraded, relay.FlowDead:
					logger.Warn("flow status", attrs...)
				default:
					logger.Debug("flow status", attrs...)
				}
			}
		}
	}
}
