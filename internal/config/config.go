// Package config loads process configuration from an optional YAML file and
// BIOMAPPER_-prefixed environment variables. Flags override file values by
// binding through the same viper instance in cmd.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	// DBPath is the SQLite metadata database.
	DBPath string `mapstructure:"db_path"`
	// PatternsFile optionally points at an HCL composite-pattern file that
	// supplements the patterns stored in the database.
	PatternsFile string `mapstructure:"patterns_file"`

	CheckpointDir string `mapstructure:"checkpoint_dir"`
	Checkpoints   bool   `mapstructure:"checkpoints"`

	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":2112").
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`

	Slack SlackConfig `mapstructure:"slack"`
}

// SlackConfig configures the Slack progress listener.
type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

// Load reads configuration. cfgFile pins an explicit config file; empty
// searches ./biomapper.yaml and ~/.biomapper/biomapper.yaml, and a missing
// file just means defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.biomapper")
		v.SetConfigType("yaml")
		v.SetConfigName("biomapper")
	}

	v.SetEnvPrefix("BIOMAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db_path", "biomapper.db")
	v.SetDefault("patterns_file", "")
	v.SetDefault("checkpoint_dir", ".biomapper/checkpoints")
	v.SetDefault("checkpoints", true)
	v.SetDefault("batch_size", 250)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", "5s")
	v.SetDefault("cache_size", 1000)
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("slack.enabled", os.Getenv("SLACK_BOT_USER_TOKEN") != "")
	v.SetDefault("slack.token", os.Getenv("SLACK_BOT_USER_TOKEN"))
	v.SetDefault("slack.channel", "#biomapper")

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured log level onto slog, defaulting to Info for
// unrecognized names.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
