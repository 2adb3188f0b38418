// Command raftkv-node runs one peer of a replicated key/value cluster: it
// wires internal/raft's consensus module to internal/kvraft's state machine
// over a real net/rpc transport, persists through bbolt, and exposes
// Prometheus metrics and structured logs the way this codebase's ambient
// stack expects.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/halvorsen/raftkv/internal/config"
	"github.com/halvorsen/raftkv/internal/kvraft"
	"github.com/halvorsen/raftkv/internal/raft"
	"github.com/halvorsen/raftkv/internal/transport"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "raftkv-node",
		Short: "Run a replicated key/value store peer",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start this peer and join its configured cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "raftkv.yaml", "path to the node's YAML config")
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})

	return root
}

func newLogger(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(level).
		With().Timestamp().Logger()
}

func serve(cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("raftkv-node: create data dir: %w", err)
	}
	persister, err := raft.OpenBoltPersister(filepath.Join(cfg.DataDir, fmt.Sprintf("peer-%d.db", cfg.Me)))
	if err != nil {
		return fmt.Errorf("raftkv-node: open persister: %w", err)
	}
	defer persister.Close()

	registry := prometheus.NewRegistry()
	metrics := raft.NewMetrics(registry, cfg.Me)

	timing := raft.DefaultTimingConfig()
	if cfg.ElectionTimeoutMin > 0 {
		timing.ElectionTimeoutMin = time.Duration(cfg.ElectionTimeoutMin)
	}
	if cfg.HeartbeatPeriod > 0 {
		timing.HeartbeatPeriod = time.Duration(cfg.HeartbeatPeriod)
	}

	peerEnds := transport.NewRPCClientEnds(cfg.Peers)
	kv := kvraft.StartKVServer(peerEnds, cfg.Me, persister, cfg.MaxRaftState, timing, logger, metrics)
	defer kv.Kill()

	listener, err := transport.Listen(cfg.Peers[cfg.Me], transport.Services{
		"Raft":     kv.Raft(),
		"KVServer": kv,
	})
	if err != nil {
		return fmt.Errorf("raftkv-node: listen on %s: %w", cfg.Peers[cfg.Me], err)
	}
	defer listener.Close()
	logger.Info().Str("addr", cfg.Peers[cfg.Me]).Int("peer", cfg.Me).Msg("serving")

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, logger)
	}

	waitForShutdown(logger)
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

func waitForShutdown(logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
}
