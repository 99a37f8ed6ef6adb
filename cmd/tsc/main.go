// Package main implements the telemetry sync core entry point.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/telemetry-sync/tsc/internal/bridge"
	"github.com/telemetry-sync/tsc/internal/config"
	"github.com/telemetry-sync/tsc/internal/logging"
	"github.com/telemetry-sync/tsc/internal/timing"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "tsc.toml", "path to TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("tsc", cfg.LogLevel)
	logger.Info().Str("version", version).Msg("starting telemetry sync core")

	b := bridge.New(cfg, logger)

	b.OnConnected(func(addr string) {
		logger.Info().Str("peer", addr).Msg("producer connected")
	})
	b.OnDisconnected(func() {
		logger.Info().Msg("producer disconnected")
	})
	b.OnIssue(func(issue timing.Issue) {
		logger.Warn().
			Str("type", string(issue.Type)).
			Str("severity", string(issue.Severity)).
			Int64("frame", issue.Frame).
			Interface("details", issue.Details).
			Msg("timing anomaly")
	})

	if err := b.Start(); err != nil {
		logger.Error().Err(err).Str("addr", cfg.BindAddr).Msg("failed to bind listening socket")
		os.Exit(1)
	}
	logger.Info().Str("addr", cfg.BindAddr).Msg("listening for telemetry producer")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	b.Stop()

	stats := b.Stats()
	logger.Info().
		Uint64("messages", stats.TotalMessages).
		Uint64("issues", stats.TotalIssues).
		Float64("issueRate", stats.IssueRate).
		Msg("final stream statistics")
}
