package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	// Nonexistent file: defaults only
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Empty(t, cfg.Token)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Zero(t, cfg.RequestsPerSecond)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 0.2, cfg.Retry.Jitter)

	assert.Equal(t, 2*time.Second, cfg.Watch.PollInterval)
	assert.Zero(t, cfg.Watch.Timeout)
	assert.False(t, cfg.Watch.FailFast)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.JSON)
	assert.False(t, cfg.Updates.Check)
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
agent_address: https://beaker.internal.example
user_token: file-token
request_timeout: 10s
watch:
  poll_interval: 500ms
  timeout: 2h
  fail_fast: true
retry:
  max_attempts: 3
logging:
  level: debug
  json: true
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "https://beaker.internal.example", cfg.Address)
	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.PollInterval)
	assert.Equal(t, 2*time.Hour, cfg.Watch.Timeout)
	assert.True(t, cfg.Watch.FailFast)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)

	// Unset file fields keep defaults
	assert.Equal(t, 1*time.Second, cfg.Retry.BaseDelay)
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
agent_address: https://beaker.internal.example
user_token: file-token
`)

	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvAddress, "https://beaker.env.example")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "https://beaker.env.example", cfg.Address)
}

func TestDefaultPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/etc/beaker/config.yml")
		assert.Equal(t, "/etc/beaker/config.yml", DefaultPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".beaker", "config.yml"), DefaultPath())
	})
}

func TestLoadFrom_MalformedFile(t *testing.T) {
	path := writeConfig(t, "agent_address: [not: closed\n")
	_, err := LoadFrom(path)
	require.Error(t, err)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"blank address", "agent_address: \" \"\n"},
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"zero poll interval", "watch:\n  poll_interval: 0s\n"},
		{"negative timeout", "watch:\n  timeout: -5s\n"},
		{"unknown log level", "logging:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRetryConfig_ToRetry(t *testing.T) {
	rc := RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   2 * time.Second,
		MaxDelay:    20 * time.Second,
		Multiplier:  1.5,
		Jitter:      0.1,
	}

	out := rc.ToRetry()
	assert.Equal(t, 4, out.MaxAttempts)
	assert.Equal(t, 2*time.Second, out.BaseDelay)
	assert.Equal(t, 20*time.Second, out.MaxDelay)
	assert.Equal(t, 1.5, out.Multiplier)
	assert.Equal(t, 0.1, out.Jitter)
}
