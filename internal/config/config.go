// Package config loads CLI configuration from the Beaker config file
// and environment variables.
//
// Sources are merged in precedence order: environment variables beat
// the config file, which beats built-in defaults. The config file
// location is $BEAKER_CONFIG if set, else ~/.beaker/config.yml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/statorlabs/beaker-go/pkg/retry"
)

// Environment variables recognized by the loader.
const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "BEAKER_CONFIG"

	// EnvToken overrides the user token.
	EnvToken = "BEAKER_TOKEN"

	// EnvAddress overrides the service address.
	EnvAddress = "BEAKER_ADDR"
)

// DefaultAddress is the public service endpoint.
const DefaultAddress = "https://beaker.org"

// Config is the merged CLI configuration.
type Config struct {
	// Address is the base URL of the service.
	Address string `mapstructure:"agent_address"`

	// Token is the bearer token used for authentication.
	Token string `mapstructure:"user_token"`

	// RequestTimeout bounds each request attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RequestsPerSecond limits the client-side request rate.
	// Zero disables rate limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Retry configures transport backoff.
	Retry RetryConfig `mapstructure:"retry"`

	// Watch configures wait behavior defaults.
	Watch WatchConfig `mapstructure:"watch"`

	// Logging configures the CLI logger.
	Logging LoggingConfig `mapstructure:"logging"`

	// Updates configures the version check.
	Updates UpdatesConfig `mapstructure:"updates"`
}

// RetryConfig mirrors the transport backoff knobs.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
}

// ToRetry converts the config to a transport retry.Config.
func (r RetryConfig) ToRetry() retry.Config {
	return retry.Config{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Multiplier:  r.Multiplier,
		Jitter:      r.Jitter,
	}
}

// WatchConfig holds default wait behavior, overridable per command.
type WatchConfig struct {
	// PollInterval is the delay between status fetches.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Timeout bounds each job's wait. Zero waits indefinitely.
	Timeout time.Duration `mapstructure:"timeout"`

	// FailFast cancels remaining waits on the first non-success.
	FailFast bool `mapstructure:"fail_fast"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// JSON switches log output to structured JSON.
	JSON bool `mapstructure:"json"`
}

// UpdatesConfig configures the version check.
type UpdatesConfig struct {
	// Check enables the periodic new-version check.
	Check bool `mapstructure:"check"`
}

// Validate checks invariants on the merged configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("config: address is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1")
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("config: watch.poll_interval must be positive")
	}
	if c.Watch.Timeout < 0 {
		return fmt.Errorf("config: watch.timeout must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
