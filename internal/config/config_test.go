package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "bolt", cfg.Store.Type)
	assert.Equal(t, 5*time.Second, cfg.SaveTimeout())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabtext.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9000"
save_timeout_ms = 250

[store]
type = "memory"

[logging]
level = "debug"
format = "json"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.SaveTimeout())
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, 256, cfg.Limits.SendBuffer)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabtext.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: sqlite
  path: /tmp/reports.sqlite
relay:
  enabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "/tmp/reports.sqlite", cfg.Store.Path)
	assert.True(t, cfg.Relay.Enabled)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabtext.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COLLAB_ADDR", ":7000")
	t.Setenv("COLLAB_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("DATABASE_URL", "postgres://x@db/collab")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres://x@db/collab", cfg.Postgres.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"unknown store", func(c *Config) { c.Store.Type = "s3" }},
		{"bolt without path", func(c *Config) { c.Store.Path = "" }},
		{"relay without redis", func(c *Config) { c.Relay.Enabled = true; c.Redis.Addr = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero send buffer", func(c *Config) { c.Limits.SendBuffer = 0 }},
		{"zero save timeout", func(c *Config) { c.Server.SaveTimeoutMs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collabtext.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	got := make(chan string, 4)
	w.OnChange(func(c *Config) { got <- c.Logging.Level })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644))

	select {
	case level := <-got:
		assert.Equal(t, "debug", level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
