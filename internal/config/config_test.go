package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8081", cfg.API.Addr())
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.LockTimeoutDuration())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
port = 9000

[storage]
driver = "sqlite"
path = "/tmp/books.db"
lock_timeout = "250ms"

[log]
format = "console"
`), 0o644))

	t.Setenv("BOOKS_API_HOST", "0.0.0.0")
	t.Setenv("BOOKS_LOG_LEVEL", "debug")
	t.Setenv("BOOKS_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Addr())
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/books.db", cfg.Storage.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.LockTimeoutDuration())
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api]\nport = 7000\n"), 0o644))
	t.Setenv("BOOKS_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.API.Port)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("BOOKS_API_PORT", "eighty")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("bad lock timeout", func(t *testing.T) {
		t.Setenv("BOOKS_LOCK_TIMEOUT", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("BOOKS_STORAGE_DRIVER", "postgres")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown storage driver")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.API.Port = 0 }},
		{"port too large", func(c *Config) { c.API.Port = 70000 }},
		{"sqlite without path", func(c *Config) { c.Storage.Driver, c.Storage.Path = DriverSQLite, "" }},
		{"negative lock timeout", func(c *Config) { c.Storage.LockTimeout.Duration = -time.Second }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
