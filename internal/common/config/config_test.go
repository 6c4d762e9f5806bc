package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeoutDuration())
	assert.Equal(t, "./agent-swarm-db.sqlite", cfg.Database.Path)
	assert.Empty(t, cfg.NATS.URL, "no NATS URL means the in-memory bus")
	assert.Empty(t, cfg.Auth.APIKey)
	assert.Empty(t, cfg.App.URL)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickIntervalDuration())
	assert.True(t, cfg.MCP.Enabled)
	assert.Equal(t, 9090, cfg.MCP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/var/lib/swarmd/kernel.db")
	t.Setenv("PORT", "9000")
	t.Setenv("API_KEY", "secret-key")
	t.Setenv("APP_URL", "https://hive.example.com")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("SWARM_SERVER_HOST", "127.0.0.1")
	t.Setenv("SWARM_LOGGING_LEVEL", "debug")
	t.Setenv("SWARM_SCHEDULER_TICK_INTERVAL", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/swarmd/kernel.db", cfg.Database.Path)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "secret-key", cfg.Auth.APIKey)
	assert.Equal(t, "https://hive.example.com", cfg.App.URL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickIntervalDuration())
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
server:
  port: 8443
  readTimeout: 15
database:
  path: /data/kernel.db
scheduler:
  enabled: false
`), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeoutDuration())
	assert.Equal(t, "/data/kernel.db", cfg.Database.Path)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset file keys keep their defaults")
}

func TestProductionLogFormat(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("SWARM_ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)

	t.Setenv("SWARM_ENV", "development")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidation(t *testing.T) {
	t.Run("port out of range", func(t *testing.T) {
		t.Setenv("PORT", "99999")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port")
	})

	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("SWARM_LOGGING_LEVEL", "verbose")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})

	t.Run("zero tick with scheduler on", func(t *testing.T) {
		t.Setenv("SWARM_SCHEDULER_TICK_INTERVAL", "0")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheduler.tickInterval")
	})
}
