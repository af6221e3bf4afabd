// ABOUTME: Tests for config loading, env expansion and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
  auth_secret: "topsecret"
storage:
  database_path: "/tmp/intake.db"
logging:
  level: debug
  format: json
gateway:
  max_chain_depth: 5
  rate_limit_per_minute: 3
  max_message_length: 2000
  dedupe_ttl: "5m"
queue:
  idle_ttl: "10m"
  depth: 64
heartbeat:
  check_interval: "30m"
  milestone_days: [7, 14]
  gp_reminder_after: "24h"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "topsecret", cfg.Server.AuthSecret)
	assert.Equal(t, 5, cfg.Gateway.MaxChainDepth)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.DedupeTTL.Std())
	assert.Equal(t, 10*time.Minute, cfg.Queue.IdleTTL.Std())
	assert.Equal(t, []int{7, 14}, cfg.Heartbeat.MilestoneDays)
	assert.Equal(t, 24*time.Hour, cfg.Heartbeat.GPReminderAfter.Std())
}

func TestLoadDefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Gateway.MaxChainDepth)
	assert.Equal(t, 5, cfg.Gateway.RateLimitPerMinute)
	assert.Equal(t, 10000, cfg.Gateway.MaxMessageLength)
	assert.Equal(t, 30*time.Minute, cfg.Queue.IdleTTL.Std())
	assert.Equal(t, []int{14, 30, 60, 90}, cfg.Heartbeat.MilestoneDays)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_INTAKE_SECRET", "from-env")
	path := writeConfig(t, `
server:
  listen_addr: ":8080"
  auth_secret: "${TEST_INTAKE_SECRET}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AuthSecret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero chain depth", "gateway:\n  max_chain_depth: 0\n"},
		{"zero rate limit", "gateway:\n  rate_limit_per_minute: 0\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad milestone", "heartbeat:\n  milestone_days: [0]\n"},
		{"bad duration", "queue:\n  idle_ttl: \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnvDefault(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
