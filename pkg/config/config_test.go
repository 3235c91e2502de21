package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 10, cfg.Scheduler.IntervalSeconds)
	assert.Equal(t, 30, cfg.Scheduler.ErrorBackoffSeconds)
	assert.Equal(t, 1000, cfg.Scheduler.MaxParameterLength)
	assert.Equal(t, 10, cfg.Scheduler.StaleResourceMinutes)
	assert.Equal(t, 4, cfg.Scheduler.DanglingSessionHours)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/drover-test
listen_addr: ":9090"
scheduler:
  enabled: true
  interval_seconds: 5
  error_backoff_seconds: 15
  max_parameter_length: 500
  stale_resource_minutes: 10
  dangling_session_hours: 4
log:
  level: debug
  json: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/drover-test", cfg.DataDir)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.Scheduler.IntervalSeconds)
	assert.Equal(t, 15, cfg.Scheduler.ErrorBackoffSeconds)
	assert.Equal(t, 500, cfg.Scheduler.MaxParameterLength)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr: ":9090"`), 0644))

	t.Setenv("DROVER_LISTEN_ADDR", ":7070")
	t.Setenv("DROVER_SCHEDULER_INTERVAL", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.Scheduler.IntervalSeconds)
}

func TestInvalidInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  interval_seconds: -1\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
