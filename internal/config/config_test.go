package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no stray biomapper.yaml is picked up.
	t.Chdir(t.TempDir())
	t.Setenv("SLACK_BOT_USER_TOKEN", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "biomapper.db", cfg.DBPath)
	assert.Equal(t, ".biomapper/checkpoints", cfg.CheckpointDir)
	assert.True(t, cfg.Checkpoints)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, 1000, cfg.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Slack.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BIOMAPPER_DB_PATH", "/var/lib/biomapper/meta.db")
	t.Setenv("BIOMAPPER_BATCH_SIZE", "50")
	t.Setenv("BIOMAPPER_CACHE_TTL", "30s")
	t.Setenv("BIOMAPPER_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/biomapper/meta.db", cfg.DBPath)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "biomapper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"db_path: custom.db\nbatch_size: 10\nslack:\n  enabled: true\n  channel: \"#mapping\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom.db", cfg.DBPath)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.True(t, cfg.Slack.Enabled)
	assert.Equal(t, "#mapping", cfg.Slack.Channel)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"WARNING": slog.LevelWarn,
	} {
		cfg := &Config{LogLevel: name}
		assert.Equal(t, want, cfg.SlogLevel(), name)
	}
}
