package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	Garmin  GarminConfig  `mapstructure:"garmin"`
	Poll    PollConfig    `mapstructure:"poll"`
	Alarms  AlarmsConfig  `mapstructure:"alarms"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// GarminConfig holds Garmin Connect account and connection details
type GarminConfig struct {
	Email      string        `mapstructure:"email"`
	Password   string        `mapstructure:"password"`
	BaseURL    string        `mapstructure:"base_url"`
	SSOURL     string        `mapstructure:"sso_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SSORetries int           `mapstructure:"sso_retries"`
	UserAgent  string        `mapstructure:"user_agent"`
	// AutoLogin lets the first request log in instead of requiring an
	// explicit login step.
	AutoLogin bool `mapstructure:"auto_login"`
}

// PollConfig controls the poll command
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Resources   []string      `mapstructure:"resources"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// AlarmsConfig holds alarm listing settings
type AlarmsConfig struct {
	// Filter is an expression evaluated against every alarm
	Filter string `mapstructure:"filter"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
