package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultPath returns the config file path the loader will use:
// $BEAKER_CONFIG if set, else ~/.beaker/config.yml.
func DefaultPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".beaker", "config.yml")
}

// Load merges defaults, the config file, and environment variables
// into a validated Config.
//
// A missing config file is not an error; defaults plus environment
// variables are enough for a working setup.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom loads configuration using an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			// File absent: defaults and env are enough.
		}
	}

	if err := v.BindEnv("user_token", EnvToken); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}
	if err := v.BindEnv("agent_address", EnvAddress); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent_address", DefaultAddress)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("requests_per_second", 0.0)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 1*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("watch.poll_interval", 2*time.Second)
	v.SetDefault("watch.timeout", 0)
	v.SetDefault("watch.fail_fast", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("updates.check", false)
}
