package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/providers/search"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Service.Port)
	assert.Equal(t, "duckduckgo", cfg.Search.Provider)
	assert.Equal(t, 5, cfg.Research.MaxResultsPerQuery)
	assert.Equal(t, 250*time.Millisecond, cfg.Research.InterBatchDelay)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Second, cfg.Session.CacheTTL)
	assert.Equal(t, "sqlite3", cfg.Archive.Driver)
	assert.Equal(t, 30, cfg.RateLimits.HostDefault.RPM)
	assert.Equal(t, "research", cfg.Temporal.TaskQueue)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeFile(t, t.TempDir(), "research.yaml", `
service:
  port: 9000
research:
  max_concurrent_subagents: 2
  inter_batch_delay: 1s
search:
  provider: http
  endpoint: https://search.example.com/v1
  api_key: from-file
rate_limits:
  providers:
    http:
      rpm: 10
      burst: 1
session:
  backend: redis
policy:
  mode: enforce
`)
	t.Setenv("RESEARCH_SEARCH_API_KEY", "from-env")
	t.Setenv("RESEARCH_SERVICE_ADMIN_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, 9100, cfg.Service.AdminPort)
	assert.Equal(t, 2, cfg.Research.MaxConcurrentSubagents)
	assert.Equal(t, time.Second, cfg.Research.InterBatchDelay)
	assert.Equal(t, "from-env", cfg.Search.APIKey)
	assert.Equal(t, 10, cfg.RateLimits.Providers["http"].RPM)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, "enforce", cfg.Policy.Mode)
}

func TestLoad_MissingAPIKeyIsConfigurationError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "research.yaml", `
search:
  provider: http
  endpoint: https://search.example.com/v1
`)
	_, err := Load(path)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "search.api_key", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Search:  search.Config{Provider: "duckduckgo"},
			Session: SessionConfig{Backend: "memory"},
		}
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.Search.Provider = "bing"
	assert.Error(t, c.Validate())

	c = base()
	c.Session.Backend = "etcd"
	assert.Error(t, c.Validate())

	c = base()
	c.Policy.Mode = "strict"
	assert.Error(t, c.Validate())

	c = base()
	c.Auth.Enabled = true
	assert.Error(t, c.Validate())
	c.Auth.JWTSecret = "s"
	assert.NoError(t, c.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Encoding: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestConfigManager_InitialLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quality.yaml", "rules:\n  - tier: primary\n")
	writeFile(t, dir, "notes.txt", "ignored")

	cm, err := NewConfigManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	events := make(chan ChangeEvent, 4)
	cm.RegisterHandler("quality.yaml", func(ev ChangeEvent) error {
		select {
		case events <- ev:
		default:
		}
		return nil
	})

	require.NoError(t, cm.Start(context.Background()))
	defer cm.Stop()

	select {
	case ev := <-events:
		assert.Equal(t, "initial_load", ev.Action)
		assert.Equal(t, filepath.Join(dir, "quality.yaml"), ev.Path)
		assert.Contains(t, ev.Config, "rules")
	case <-time.After(2 * time.Second):
		t.Fatal("no initial load event")
	}

	_, ok := cm.GetConfig("notes.txt")
	assert.False(t, ok)

	writeFile(t, dir, "quality.yaml", "rules: []\nversion: 2\n")
	require.NoError(t, cm.ReloadConfig("quality.yaml"))
	got, ok := cm.GetConfig("quality.yaml")
	require.True(t, ok)
	assert.Equal(t, 2, got["version"])
}

func TestConfigManager_RejectsMissingDirectory(t *testing.T) {
	_, err := NewConfigManager(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
	_, err = NewConfigManager("", nil)
	assert.Error(t, err)
}
