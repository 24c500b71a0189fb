package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`

	// NodeID defaults to the hostname.
	NodeID      string `env:"NODE_ID"`
	NodeAddress string `env:"NODE_ADDRESS"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	JobIndex      string `env:"JOB_INDEX" envDefault:".alerting-config" validate:"required"`
	ShardCount    int    `env:"SHARD_COUNT" envDefault:"4" validate:"min=1,max=1024"`
	ShardReplicas int    `env:"SHARD_REPLICAS" envDefault:"1" validate:"min=0,max=16"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s" validate:"gt=0"`
	NodeTimeout       time.Duration `env:"NODE_TIMEOUT" envDefault:"30s" validate:"gtfield=HeartbeatInterval"`
	NodeRetention     time.Duration `env:"NODE_RETENTION" envDefault:"10m" validate:"gtfield=NodeTimeout"`

	RunnerConcurrency int `env:"RUNNER_CONCURRENCY" envDefault:"16" validate:"min=1,max=1000"`
	ResultCacheSize   int `env:"RESULT_CACHE_SIZE" envDefault:"1024" validate:"min=1"`

	// SettingsFile is an optional TOML file of hot-reloadable sweeper settings.
	SettingsFile string `env:"SETTINGS_FILE"`

	SweeperEnabled      bool          `env:"SWEEPER_ENABLED" envDefault:"true"`
	SweepPeriod         time.Duration `env:"SWEEP_PERIOD" envDefault:"5m"`
	SweepPageSize       int           `env:"SWEEP_PAGE_SIZE" envDefault:"100"`
	SweepBackoff        time.Duration `env:"SWEEP_BACKOFF" envDefault:"50ms"`
	SweepBackoffRetries int           `env:"SWEEP_BACKOFF_RETRIES" envDefault:"3"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve node id: %w", err)
		}
		cfg.NodeID = host
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.SweeperSettings().Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SweeperSettings are the startup sweeper settings. A settings file, when
// configured, overrides them.
func (c *Config) SweeperSettings() sweeper.Settings {
	return sweeper.Settings{
		Enabled:        c.SweeperEnabled,
		SweepPeriod:    c.SweepPeriod,
		PageSize:       c.SweepPageSize,
		BackoffBase:    c.SweepBackoff,
		BackoffRetries: c.SweepBackoffRetries,
		RequestTimeout: c.RequestTimeout,
	}
}
