package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("GUEST_TOKEN_TTL_SECONDS", "60")
	t.Setenv("FANOUT_WORKERS", "nope")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.GuestTTL)
	assert.Equal(t, 8, cfg.FanoutWorkers, "unparsable values fall back")
	assert.Equal(t, ":8081", cfg.HTTPAddr)
}

func TestLoadTerminalOverlaysFile(t *testing.T) {
	t.Setenv("TERMINAL_TENANT_ID", "3")
	t.Setenv("TERMINAL_API_URL", "http://env:8081")

	path := filepath.Join(t.TempDir(), "terminal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: http://file:8081\nrefresh_interval: 10s\nmax_attempts: 2\n"), 0o600))

	cfg, err := LoadTerminal(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:8081", cfg.APIURL)
	assert.Equal(t, int64(3), cfg.TenantID)
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 3*time.Hour, cfg.GuestTTL)
}

func TestLoadTerminalRequiresTenant(t *testing.T) {
	t.Setenv("TERMINAL_TENANT_ID", "")
	_, err := LoadTerminal("")
	assert.Error(t, err)
}

func TestLoadTerminalBadFile(t *testing.T) {
	t.Setenv("TERMINAL_TENANT_ID", "1")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenant_id: [1"), 0o600))

	_, err := LoadTerminal(path)
	assert.Error(t, err)

	_, err = LoadTerminal(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
