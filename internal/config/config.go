// Package config loads the books service configuration: defaults, then an
// optional TOML file, then BOOKS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the full service configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// APIConfig is the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// StorageConfig selects the backend.
type StorageConfig struct {
	Driver      string   `toml:"driver"`
	Path        string   `toml:"path"`
	LockTimeout duration `toml:"lock_timeout"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration decodes TOML strings like "5s".
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LockTimeoutDuration returns how long a posting waits for its row locks.
func (c StorageConfig) LockTimeoutDuration() time.Duration { return c.LockTimeout.Duration }

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8081,
		},
		Storage: StorageConfig{
			Driver:      DriverMemory,
			Path:        "books.db",
			LockTimeout: duration{5 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load builds the configuration. An empty path falls back to BOOKS_CONFIG;
// with neither set no file is read.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("BOOKS_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BOOKS_API_HOST"); v != "" {
		c.API.Host = v
	}
	if v := os.Getenv("BOOKS_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BOOKS_API_PORT: %w", err)
		}
		c.API.Port = port
	}
	if v := os.Getenv("BOOKS_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("BOOKS_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("BOOKS_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BOOKS_LOCK_TIMEOUT: %w", err)
		}
		c.Storage.LockTimeout = duration{d}
	}
	if v := os.Getenv("BOOKS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BOOKS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("BOOKS_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BOOKS_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = b
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port %d out of range", c.API.Port)
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.LockTimeout.Duration < 0 {
		return errors.New("lock timeout must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
