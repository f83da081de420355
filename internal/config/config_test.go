package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "DEVTOOLS_HOST", "DEVTOOLS_PORT", "LAUNCH_BROWSER", "MAX_SESSIONS", "COMMAND_TIMEOUT", "SESSION_TTL", "LOG_LEVEL", "BROWSER_POOL_SIZE", "EVENT_JOURNAL_SIZE", "PROTOCOL_PATH"} {
		t.Setenv(key, "")
	}
	t.Setenv("REDIS_ADDR", "")
	require.NoError(t, os.Unsetenv("REDIS_ADDR"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "localhost:9222", cfg.DevToolsTarget())
	assert.False(t, cfg.LaunchBrowser)
	assert.Empty(t, cfg.ChromiumPath)
	assert.Equal(t, 1, cfg.BrowserPoolSize)
	assert.Equal(t, 100, cfg.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, time.Duration(0), cfg.CommandTimeout)
	assert.Equal(t, 500, cfg.EventBufferSize)
	assert.Equal(t, 5000, cfg.EventJournalSize)
	assert.Empty(t, cfg.ProtocolPaths())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEmptyRedisAddrDisablesPersistence(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DEVTOOLS_HOST", "chrome")
	t.Setenv("DEVTOOLS_PORT", "9333")
	t.Setenv("MAX_SESSIONS", "5")
	t.Setenv("COMMAND_TIMEOUT", "15s")
	t.Setenv("EVENT_BUFFER_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, "chrome:9333", cfg.DevToolsTarget())
	assert.Equal(t, 5, cfg.MaxSessions)
	assert.Equal(t, 15*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 500, cfg.EventBufferSize, "unparsable values fall back to the default")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_SESSIONS", "0"},
		{"EVENT_BUFFER_SIZE", "-1"},
		{"CLEANUP_INTERVAL", "-1s"},
		{"COMMAND_TIMEOUT", "-5s"},
		{"DEVTOOLS_PORT", "http"},
		{"BROWSER_POOL_SIZE", "11"},
		{"EVENT_JOURNAL_SIZE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProtocolPaths(t *testing.T) {
	t.Setenv("PROTOCOL_PATH", "browser_protocol.json, js_protocol.json,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"browser_protocol.json", "js_protocol.json"}, cfg.ProtocolPaths())
}

func TestLoadChromiumPath(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "chromium")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("LAUNCH_BROWSER", "true")
	t.Setenv("CHROMIUM_PATH", binary)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.LaunchBrowser)
	assert.Equal(t, binary, cfg.ChromiumPath)

	notExecutable := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notExecutable, nil, 0o644))
	t.Setenv("CHROMIUM_PATH", notExecutable)
	_, err = Load()
	assert.ErrorContains(t, err, "not executable")

	t.Setenv("CHROMIUM_PATH", filepath.Join(dir, "missing"))
	_, err = Load()
	assert.ErrorContains(t, err, "not found")
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("FLAG", "yes")
	assert.True(t, getEnvAsBool("FLAG", true), "unparsable values fall back to the default")
	t.Setenv("FLAG", "1")
	assert.True(t, getEnvAsBool("FLAG", false))
	t.Setenv("FLAG", "false")
	assert.False(t, getEnvAsBool("FLAG", true))
}
