package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Addr)
	assert.Equal(t, 30, cfg.Limit.Requests)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
log_level: debug
store:
  path: /tmp/vibetune.db
redis:
  enabled: true
  addr: redis:6379
rate_limit:
  enabled: true
  requests: 10
  window: 30s
provider:
  model: gemini-2.5-pro
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/vibetune.db", cfg.Store.Path)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Limit.Requests)
	assert.Equal(t, 30*time.Second, cfg.Limit.Window.Std())
	assert.Equal(t, "gemini-2.5-pro", cfg.Provider.Model)
	// Untouched keys keep their defaults.
	assert.Equal(t, "vibetune", cfg.Redis.ConsumerGroup)
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "sk-test")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
}

func TestLoadRejectsBadLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  enabled: true\n  requests: 0\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
