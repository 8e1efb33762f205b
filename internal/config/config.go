// Package config loads application settings from config.yaml and
// ZIPATLAS_* environment variables, with defaults for every knob.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Boundary BoundaryConfig `yaml:"boundary" mapstructure:"boundary"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job store behind the serve surface.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`             // sqlite or postgres
	Path        string `yaml:"path" mapstructure:"path"`                 // sqlite database file
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // postgres DSN
}

// BoundaryConfig configures the boundary source and archive acquisition.
type BoundaryConfig struct {
	// Provider selects the lookup backend: sqlite (cache database), postgres,
	// or archive (scan the extracted shapefile directly).
	Provider    string      `yaml:"provider" mapstructure:"provider"`
	Year        int         `yaml:"year" mapstructure:"year"`
	CachePath   string      `yaml:"cache_path" mapstructure:"cache_path"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Schema      string      `yaml:"schema" mapstructure:"schema"`
	ArchiveDir  string      `yaml:"archive_dir" mapstructure:"archive_dir"`
	UserAgent   string      `yaml:"user_agent" mapstructure:"user_agent"`
	Retry       RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig shapes the archive download and bulk-load retry loops.
// Converted via resilience.FromRetryConfig at the call site.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// PipelineConfig carries run defaults that command flags can override.
type PipelineConfig struct {
	SampleK     int `yaml:"sample_k" mapstructure:"sample_k"`
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	DataDir        string        `yaml:"data_dir" mapstructure:"data_dir"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Breaker        BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around the boundary provider in
// serve mode. Converted via resilience.FromCircuitConfig at the call site.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ZIPATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "zipatlas.db")
	v.SetDefault("boundary.provider", "sqlite")
	v.SetDefault("boundary.year", 2023)
	v.SetDefault("boundary.cache_path", "boundaries.db")
	v.SetDefault("boundary.archive_dir", "data/tiger")
	v.SetDefault("boundary.user_agent", "zipatlas/1.0")
	v.SetDefault("boundary.retry.max_attempts", 3)
	v.SetDefault("boundary.retry.initial_backoff_ms", 500)
	v.SetDefault("boundary.retry.max_backoff_ms", 30000)
	v.SetDefault("boundary.retry.multiplier", 2.0)
	v.SetDefault("boundary.retry.jitter_fraction", 0.25)
	v.SetDefault("pipeline.sample_k", 5)
	v.SetDefault("pipeline.parallelism", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "data")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.breaker.failure_threshold", 5)
	v.SetDefault("server.breaker.reset_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// BoundaryDatabaseURL returns the Postgres DSN for the boundary provider,
// falling back to the job store's DSN when none is set for boundaries.
func (c *Config) BoundaryDatabaseURL() string {
	if c.Boundary.DatabaseURL != "" {
		return c.Boundary.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// Validate checks the configuration for a given run mode and reports every
// problem found, joined into one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkBoundary := func() {
		switch c.Boundary.Provider {
		case "sqlite", "postgres", "archive":
		default:
			problems = append(problems,
				fmt.Sprintf("boundary.provider must be sqlite, postgres, or archive, got %q", c.Boundary.Provider))
		}
		if c.Boundary.Provider == "postgres" && c.BoundaryDatabaseURL() == "" {
			problems = append(problems, "boundary.database_url is required for the postgres provider")
		}
		if c.Boundary.Year <= 0 {
			problems = append(problems, "boundary.year must be > 0")
		}
	}

	switch mode {
	case "generate":
		checkBoundary()

	case "serve":
		checkBoundary()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.Path == "" {
				problems = append(problems, "store.path is required for the sqlite driver")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		default:
			problems = append(problems,
				fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
		}

	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
