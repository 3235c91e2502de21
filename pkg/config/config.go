// Package config loads server configuration from an optional YAML file with
// environment-variable overrides. Flags on the CLI win over both.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// SchedulerConfig tunes the scheduling loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// IntervalSeconds is the pause between scheduling passes.
	IntervalSeconds int `yaml:"interval_seconds"`

	// ErrorBackoffSeconds is the extra pause after a failed pass.
	ErrorBackoffSeconds int `yaml:"error_backoff_seconds"`

	// MaxParameterLength caps trigger parameter strings; a trigger carrying
	// a longer value is skipped with a warning.
	MaxParameterLength int `yaml:"max_parameter_length"`

	// StaleResourceMinutes is how long a silent resource stays enrolled.
	StaleResourceMinutes int `yaml:"stale_resource_minutes"`

	// DanglingSessionHours is how long an in-progress session may outlive
	// its resource before being failed.
	DanglingSessionHours int `yaml:"dangling_session_hours"`
}

// AuthConfig holds credential encryption settings.
type AuthConfig struct {
	// EncryptionPassword derives the AES-256 key for credential material.
	EncryptionPassword string `yaml:"encryption_password"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	return &Config{
		DataDir:    "/var/lib/drover",
		ListenAddr: ":8080",
		Scheduler: SchedulerConfig{
			Enabled:              true,
			IntervalSeconds:      10,
			ErrorBackoffSeconds:  30,
			MaxParameterLength:   1000,
			StaleResourceMinutes: 10,
			DanglingSessionHours: 4,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DROVER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DROVER_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DROVER_SCHEDULER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.IntervalSeconds = n
		}
	}
	if v := os.Getenv("DROVER_ENCRYPTION_PASSWORD"); v != "" {
		c.Auth.EncryptionPassword = v
	}
	if v := os.Getenv("DROVER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %d", c.Scheduler.IntervalSeconds)
	}
	if c.Scheduler.ErrorBackoffSeconds < 0 {
		return fmt.Errorf("scheduler error backoff cannot be negative, got %d", c.Scheduler.ErrorBackoffSeconds)
	}
	if c.Scheduler.MaxParameterLength <= 0 {
		return fmt.Errorf("max parameter length must be positive, got %d", c.Scheduler.MaxParameterLength)
	}
	return nil
}
