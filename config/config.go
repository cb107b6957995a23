package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to environment overrides, e.g. GARMINCONNECT_GARMIN_PASSWORD
const envPrefix = "GARMINCONNECT"

// validResources mirrors the resource names the client accepts for polling
var validResources = map[string]bool{
	"devices":            true,
	"device_alarms":      true,
	"user_summary":       true,
	"body_composition":   true,
	"max_metrics":        true,
	"hydration":          true,
	"personal_records":   true,
	"sleep":              true,
	"resting_heart_rate": true,
}

// Load loads the configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".garminconnect"))
		}

		// Check /etc
		v.AddConfigPath("/etc/garminconnect/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// No file in the search paths; defaults and environment still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Garmin defaults
	v.SetDefault("garmin.email", "")
	v.SetDefault("garmin.password", "")
	v.SetDefault("garmin.base_url", "https://connect.garmin.com")
	v.SetDefault("garmin.sso_url", "https://sso.garmin.com/sso")
	v.SetDefault("garmin.timeout", 30*time.Second)
	v.SetDefault("garmin.sso_retries", 2)
	v.SetDefault("garmin.user_agent", "")
	v.SetDefault("garmin.auto_login", true)

	// Poll defaults
	v.SetDefault("poll.interval", 5*time.Minute)
	v.SetDefault("poll.resources", []string{"devices", "user_summary"})
	v.SetDefault("poll.metrics_addr", "")

	v.SetDefault("alarms.filter", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Garmin.BaseURL == "" {
		return fmt.Errorf("garmin.base_url is required")
	}
	if cfg.Garmin.SSOURL == "" {
		return fmt.Errorf("garmin.sso_url is required")
	}
	if cfg.Garmin.Timeout <= 0 {
		return fmt.Errorf("garmin.timeout must be positive")
	}
	if cfg.Garmin.SSORetries < 0 {
		return fmt.Errorf("garmin.sso_retries must not be negative")
	}

	if cfg.Poll.Interval < time.Minute {
		return fmt.Errorf("poll.interval must be at least 1m, got %s", cfg.Poll.Interval)
	}
	for _, r := range cfg.Poll.Resources {
		if !validResources[r] {
			return fmt.Errorf("invalid poll resource: %s", r)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}
