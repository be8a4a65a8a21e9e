// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package config loads and validates Steeple's runtime configuration from
// layered sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Database   DatabaseConfig   `koanf:"database"`
	Security   SecurityConfig   `koanf:"security"`
	Provider   ProviderConfig   `koanf:"provider"`
	Redis      RedisConfig      `koanf:"redis"`
	Outbound   OutboundConfig   `koanf:"outbound"`
	DeadLetter DeadLetterConfig `koanf:"dead_letter"`
	Notify     NotifyConfig     `koanf:"notify"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host                 string        `koanf:"host"`
	Port                 int           `koanf:"port"`
	RequestTimeout       time.Duration `koanf:"request_timeout"`
	ShutdownTimeout      time.Duration `koanf:"shutdown_timeout"`
	WebhookRatePerMinute int           `koanf:"webhook_rate_per_minute"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig locates the SQLite files.
type DatabaseConfig struct {
	// DataDir holds the registry database and one database per tenant.
	DataDir string `koanf:"data_dir"`
}

// SecurityConfig holds secrets for operator auth, webhook verification and
// phone number protection.
type SecurityConfig struct {
	// AuthSecret signs operator bearer tokens (HS256).
	AuthSecret string `koanf:"auth_secret"`

	// WebhookPublicKey is the provider's base64-encoded Ed25519 public key.
	WebhookPublicKey string `koanf:"webhook_public_key"`

	// WebhookTolerance bounds webhook timestamp skew.
	WebhookTolerance time.Duration `koanf:"webhook_tolerance"`

	// PhoneSecret derives the phone hashing and encryption keys.
	// Minimum 32 bytes.
	PhoneSecret string `koanf:"phone_secret"`
}

// ProviderConfig points at the upstream SMS provider API.
type ProviderConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// RedisConfig configures the provider-message-id mapping cache.
// An empty Addr disables the cache; reconciliation then always scans.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

// OutboundConfig tunes the send pipeline.
type OutboundConfig struct {
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`

	MaxRetries        int           `koanf:"max_retries"`
	InitialDelay      time.Duration `koanf:"initial_delay"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	JitterFactor      float64       `koanf:"jitter_factor"`

	BreakerFailureThreshold int           `koanf:"breaker_failure_threshold"`
	BreakerResetTimeout     time.Duration `koanf:"breaker_reset_timeout"`
	BreakerHalfOpenProbes   int           `koanf:"breaker_half_open_probes"`
}

// DeadLetterConfig tunes the replay worker.
type DeadLetterConfig struct {
	Interval    time.Duration `koanf:"interval"`
	BatchSize   int           `koanf:"batch_size"`
	MaxRetries  int           `koanf:"max_retries"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	Retention   time.Duration `koanf:"retention"`
}

// NotifyConfig configures operator alerting. Empty URL disables it.
type NotifyConfig struct {
	WebhookURL string `koanf:"webhook_url"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			RequestTimeout:       30 * time.Second,
			ShutdownTimeout:      10 * time.Second,
			WebhookRatePerMinute: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			DataDir: "/data",
		},
		Security: SecurityConfig{
			WebhookTolerance: 5 * time.Minute,
		},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "",
			TTL:  72 * time.Hour,
		},
		Outbound: OutboundConfig{
			RatePerSecond:           10,
			Burst:                   20,
			MaxRetries:              4,
			InitialDelay:            500 * time.Millisecond,
			MaxDelay:                5 * time.Second,
			BackoffMultiplier:       2.0,
			JitterFactor:            0.2,
			BreakerFailureThreshold: 5,
			BreakerResetTimeout:     30 * time.Second,
			BreakerHalfOpenProbes:   1,
		},
		DeadLetter: DeadLetterConfig{
			Interval:    time.Minute,
			BatchSize:   50,
			MaxRetries:  10,
			BaseBackoff: time.Minute,
			MaxBackoff:  time.Hour,
			Retention:   7 * 24 * time.Hour,
		},
		Notify: NotifyConfig{},
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	if c.Security.AuthSecret == "" {
		return fmt.Errorf("security.auth_secret is required")
	}
	if c.Security.WebhookPublicKey == "" {
		return fmt.Errorf("security.webhook_public_key is required")
	}
	if len(c.Security.PhoneSecret) < 32 {
		return fmt.Errorf("security.phone_secret must be at least 32 bytes")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Outbound.RatePerSecond <= 0 {
		return fmt.Errorf("outbound.rate_per_second must be positive")
	}
	if c.Outbound.MaxRetries < 0 {
		return fmt.Errorf("outbound.max_retries must not be negative")
	}
	if c.Outbound.BreakerFailureThreshold < 1 {
		return fmt.Errorf("outbound.breaker_failure_threshold must be at least 1")
	}
	if c.DeadLetter.BatchSize < 1 {
		return fmt.Errorf("dead_letter.batch_size must be at least 1")
	}
	return nil
}
