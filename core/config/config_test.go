package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesCacheDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Cache.Limit)
	assert.Equal(t, time.Hour, cfg.Cache.ClearInterval())
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
}

func TestLoadKeepsExplicitCacheSettings(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
cache:
  limit: 200
  clear_interval_seconds: 1800
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Cache.Limit)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ClearInterval())
}

func TestLoadRejectsNegativeCacheLimit(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
cache:
  limit: -5
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresToken(t *testing.T) {
	path := writeConfig(t, `
telegram:
  run_mode: longpoll
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownRunMode(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  run_mode: carrier-pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeWebhookNeedsURL(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.RunMode = RunModeWebhook

	err := Normalize(cfg)
	assert.Error(t, err)
}
