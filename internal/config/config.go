// Package config loads a raftkv node's static configuration: its own peer
// id, the cluster's peer addresses, timer tuning, and the snapshot
// threshold, from a YAML file with environment-variable overrides for the
// handful of settings operators most often need to flip per-deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can carry "200ms"-style
// values; yaml.v3 only decodes bare integers into time.Duration directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is one node's view of the cluster it belongs to.
type Config struct {
	// Me is this process's index into Peers.
	Me int `yaml:"me"`

	// Peers lists every peer's RPC address, in a fixed, cluster-wide order;
	// Peers[Me] is this process's own listen address.
	Peers []string `yaml:"peers"`

	// DataDir holds this peer's bbolt persister file.
	DataDir string `yaml:"data_dir"`

	// MaxRaftState bounds the persisted raft state size (bytes) that
	// triggers a snapshot; <=0 disables snapshotting.
	MaxRaftState int `yaml:"max_raft_state"`

	// ElectionTimeoutMin and HeartbeatPeriod tune the two consensus timers.
	// Zero values fall back to raft.DefaultTimingConfig.
	ElectionTimeoutMin Duration `yaml:"election_timeout_min"`
	HeartbeatPeriod    Duration `yaml:"heartbeat_period"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with every field at its documented default,
// suitable as the base that Load and environment overrides apply on top of.
func Default() Config {
	return Config{
		DataDir:     "./data",
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
}

// Load reads a YAML config file from path and applies the RAFTKV_* overrides
// environment variables carry, favoring a single explicit config object over
// scattered flag parsing.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Me < 0 || cfg.Me >= len(cfg.Peers) {
		return Config{}, fmt.Errorf("config: me=%d out of range for %d peers", cfg.Me, len(cfg.Peers))
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("RAFTKV_ME"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Me = n
		}
	}
	if v, ok := os.LookupEnv("RAFTKV_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("RAFTKV_MAX_RAFT_STATE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRaftState = n
		}
	}
	if v, ok := os.LookupEnv("RAFTKV_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("RAFTKV_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}
