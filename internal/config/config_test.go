package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.Equal(t, "none", cfg.Archive.Driver)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Nil(t, cfg.Channels.Slack)
	assert.Nil(t, cfg.Channels.Webhook)
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "sentinel.yaml", `
logging:
  level: debug
  encoding: console
engine:
  max_history: 500
  max_notifications_per_hour: 20
  group_window: 10m
  dispatch_timeout: 5s
  sweep_interval: 15s
channels:
  slack:
    webhook_url: https://hooks.slack.com/services/T/B/X
    channel: "#alerts"
  webhook:
    url: https://ops.example.com/hooks/alerts
    retry_count: 2
archive:
  driver: sqlite
  sqlite_path: /var/lib/sentinel/archive.db
metrics:
  enabled: true
  addr: ":9191"
rules_file: ./rules.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
	assert.Equal(t, 500, cfg.Engine.MaxHistory)
	assert.Equal(t, 20, cfg.Engine.MaxNotificationsPerHour)
	assert.Equal(t, 10*time.Minute, cfg.Engine.GroupWindow)
	assert.Equal(t, 5*time.Second, cfg.Engine.DispatchTimeout)
	assert.Equal(t, 15*time.Second, cfg.Engine.SweepInterval)

	require.NotNil(t, cfg.Channels.Slack)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.Channels.Slack.WebhookURL)
	assert.Equal(t, "#alerts", cfg.Channels.Slack.Channel)
	require.NotNil(t, cfg.Channels.Webhook)
	assert.Equal(t, 2, cfg.Channels.Webhook.RetryCount)
	assert.Nil(t, cfg.Channels.Email)

	assert.Equal(t, "sqlite", cfg.Archive.Driver)
	assert.Equal(t, "/var/lib/sentinel/archive.db", cfg.Archive.SQLitePath)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9191", cfg.Metrics.Addr)
	assert.Equal(t, "./rules.yaml", cfg.RulesFile)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SENTINEL_LOGGING_LEVEL", "warn")
	t.Setenv("SENTINEL_ARCHIVE_DRIVER", "redis")
	t.Setenv("SENTINEL_ARCHIVE_REDIS_ADDR", "cache:6379")
	t.Setenv("SENTINEL_METRICS_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.Archive.Driver)
	assert.Equal(t, "cache:6379", cfg.Archive.Redis.Addr)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}

func TestLoadEnvironmentBeatsFile(t *testing.T) {
	path := writeFile(t, "sentinel.yaml", "logging:\n  level: debug\n")
	t.Setenv("SENTINEL_LOGGING_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "sentinel.yaml", "logging:\n  level: verbose\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRedisArchiveDefaultAddr(t *testing.T) {
	path := writeFile(t, "sentinel.yaml", "archive:\n  driver: redis\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Archive.Redis.Addr)
}
