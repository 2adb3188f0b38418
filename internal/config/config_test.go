package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
me: 1
peers: ["127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002"]
data_dir: /var/lib/raftkv
max_raft_state: 4096
election_timeout_min: 200ms
heartbeat_period: 40ms
metrics_addr: ":9100"
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Me)
	require.Len(t, cfg.Peers, 3)
	require.Equal(t, "/var/lib/raftkv", cfg.DataDir)
	require.Equal(t, 4096, cfg.MaxRaftState)
	require.Equal(t, 200*time.Millisecond, time.Duration(cfg.ElectionTimeoutMin))
	require.Equal(t, 40*time.Millisecond, time.Duration(cfg.HeartbeatPeriod))
	require.Equal(t, ":9100", cfg.MetricsAddr)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, `
me: 0
peers: ["127.0.0.1:7000"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().DataDir, cfg.DataDir)
	require.Equal(t, Default().MetricsAddr, cfg.MetricsAddr)
	require.Equal(t, Default().LogLevel, cfg.LogLevel)
	require.Zero(t, time.Duration(cfg.ElectionTimeoutMin))
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
me: 0
peers: ["127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002"]
log_level: info
`)

	t.Setenv("RAFTKV_ME", "2")
	t.Setenv("RAFTKV_DATA_DIR", "/tmp/override")
	t.Setenv("RAFTKV_MAX_RAFT_STATE", "1024")
	t.Setenv("RAFTKV_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Me)
	require.Equal(t, "/tmp/override", cfg.DataDir)
	require.Equal(t, 1024, cfg.MaxRaftState)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsOutOfRangeMe(t *testing.T) {
	path := writeConfig(t, `
me: 3
peers: ["127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002"]
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
me: 0
peers: ["127.0.0.1:7000"]
election_timeout_min: soon
`)

	_, err := Load(path)
	require.Error(t, err)
}
