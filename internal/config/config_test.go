package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad tests the Load function with environment and file sources
func TestLoad(t *testing.T) {
	t.Run("defaults from struct tags", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("GMF_CONFIG_FILE", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, BackendPostgres, cfg.Database.Driver)
		assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
		assert.Equal(t, BackendRedis, cfg.Cache.Backend)
		assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
		assert.Equal(t, 5, cfg.Security.Admission.MaxAttempts)
		assert.Equal(t, time.Hour, cfg.Security.Admission.Window)
		assert.Equal(t, 14, cfg.Engine.TrialDays)
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("GMF_CONFIG_FILE", "")
		t.Setenv("GMF_SERVER_PORT", "9090")
		t.Setenv("GMF_CACHE_TTL", "30s")
		t.Setenv("GMF_SECURITY_ADMISSION_MAX_ATTEMPTS", "10")
		t.Setenv("GMF_DATABASE_DRIVER", "memory")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
		assert.Equal(t, 10, cfg.Security.Admission.MaxAttempts)
		assert.Equal(t, BackendMemory, cfg.Database.Driver)
	})

	t.Run("file values sit beneath environment", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		path := filepath.Join(dir, "gmf.yaml")
		content := `
server:
  port: 4000
cache:
  backend: memory
  ttl: 2m
engine:
  trial_days: 30
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Setenv("GMF_CONFIG_FILE", path)
		t.Setenv("GMF_SERVER_PORT", "5000")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port, "env wins over file")
		assert.Equal(t, BackendMemory, cfg.Cache.Backend)
		assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
		assert.Equal(t, 30, cfg.Engine.TrialDays)
	})

	t.Run("invalid file is an error", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
		t.Setenv("GMF_CONFIG_FILE", path)

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("dotenv file seeds environment", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv("GMF_CONFIG_FILE", "")

		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GMF_ENGINE_HISTORY_LIMIT=42\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("GMF_ENGINE_HISTORY_LIMIT") })

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 42, cfg.Engine.HistoryLimit)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Database.Driver = BackendPostgres; c.Database.URL = "" },
			wantErr: "database url is required",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "unsupported cache backend",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.Cache.TTL = 0 },
			wantErr: "cache ttl must be positive",
		},
		{
			name:    "zero admission attempts",
			mutate:  func(c *Config) { c.Security.Admission.MaxAttempts = 0 },
			wantErr: "admission max attempts",
		},
		{
			name: "disabled admission skips its checks",
			mutate: func(c *Config) {
				c.Security.Admission.Enabled = false
				c.Security.Admission.MaxAttempts = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "console", cfg.Logging.Output)
	assert.Equal(t, "logs/app.log", cfg.Logging.FilePath)
}

func TestAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":3000", cfg.Addr())
}
