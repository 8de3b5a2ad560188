// SPDX-License-Identifier: MIT

// Package config loads service configuration from an optional YAML file
// overlaid by environment variables. Per-session knobs here are only
// defaults; callers may override them when opening a session.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"PAYWATCH_LISTEN_ADDR"`
	GatewayURL string `yaml:"gateway_url" env:"PAYWATCH_GATEWAY_URL"`
	LogLevel   string `yaml:"log_level" env:"PAYWATCH_LOG_LEVEL"`

	// Redis push feed; empty Addr means the in-process feed is used and
	// push events arrive only through the webhook endpoint.
	RedisAddr     string `yaml:"redis_addr" env:"PAYWATCH_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"PAYWATCH_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"PAYWATCH_REDIS_DB"`

	// Per-session defaults.
	PollInterval      time.Duration `yaml:"poll_interval" env:"PAYWATCH_POLL_INTERVAL"`
	MaxPollRetries    int           `yaml:"max_poll_retries" env:"PAYWATCH_POLL_MAX_RETRIES"`
	TickInterval      time.Duration `yaml:"tick_interval" env:"PAYWATCH_TICK_INTERVAL"`
	SessionDeadline   time.Duration `yaml:"session_deadline" env:"PAYWATCH_SESSION_DEADLINE"`
	WarningThreshold  time.Duration `yaml:"warning_threshold" env:"PAYWATCH_WARNING_THRESHOLD"`
	CriticalThreshold time.Duration `yaml:"critical_threshold" env:"PAYWATCH_CRITICAL_THRESHOLD"`

	// WebhookRateLimit is the per-IP request budget per minute on the
	// gateway webhook endpoint.
	WebhookRateLimit int `yaml:"webhook_rate_limit" env:"PAYWATCH_WEBHOOK_RATE_LIMIT"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig configures the OpenTelemetry tracer.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"PAYWATCH_TELEMETRY_ENABLED"`
	Endpoint     string  `yaml:"endpoint" env:"PAYWATCH_TELEMETRY_ENDPOINT"`
	Environment  string  `yaml:"environment" env:"PAYWATCH_TELEMETRY_ENVIRONMENT"`
	SamplingRate float64 `yaml:"sampling_rate" env:"PAYWATCH_TELEMETRY_SAMPLING_RATE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		LogLevel:          "info",
		PollInterval:      5 * time.Second,
		MaxPollRetries:    3,
		TickInterval:      time.Second,
		SessionDeadline:   10 * time.Minute,
		WarningThreshold:  5 * time.Minute,
		CriticalThreshold: 2 * time.Minute,
		WebhookRateLimit:  300,
		Telemetry: TelemetryConfig{
			Environment:  "development",
			SamplingRate: 1.0,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (if path is non-empty), then environment variables. The result is
// validated before being returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.MaxPollRetries <= 0 {
		errs = append(errs, errors.New("max_poll_retries must be positive"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.SessionDeadline <= 0 {
		errs = append(errs, errors.New("session_deadline must be positive"))
	}
	if c.CriticalThreshold <= 0 || c.WarningThreshold <= c.CriticalThreshold {
		errs = append(errs, errors.New("warning_threshold must exceed critical_threshold"))
	}
	if c.WebhookRateLimit <= 0 {
		errs = append(errs, errors.New("webhook_rate_limit must be positive"))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, errors.New("telemetry sampling_rate must be in [0,1]"))
	}
	return errors.Join(errs...)
}
