// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testPhoneSecret = "0123456789abcdef0123456789abcdef"

// setRequiredEnv supplies the values Validate demands.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STEEPLE_AUTH_SECRET", "test-auth-secret")
	t.Setenv("STEEPLE_WEBHOOK_PUBLIC_KEY", "dGVzdC1rZXktZm9yLXZhbGlkYXRpb24tb25seQ==")
	t.Setenv("STEEPLE_PHONE_SECRET", testPhoneSecret)
	t.Setenv("STEEPLE_PROVIDER_BASE_URL", "https://api.example.test")
	t.Setenv("STEEPLE_PROVIDER_API_KEY", "test-api-key")
	t.Setenv("STEEPLE_DATA_DIR", t.TempDir())
}

func TestLoad_DefaultsApplied(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("Server.RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults: %+v", cfg.Logging)
	}
	if cfg.Outbound.MaxRetries != 4 {
		t.Errorf("Outbound.MaxRetries = %d, want 4", cfg.Outbound.MaxRetries)
	}
	if cfg.Outbound.BreakerFailureThreshold != 5 {
		t.Errorf("BreakerFailureThreshold = %d, want 5", cfg.Outbound.BreakerFailureThreshold)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want disabled by default", cfg.Redis.Addr)
	}
	if cfg.DeadLetter.Retention != 7*24*time.Hour {
		t.Errorf("DeadLetter.Retention = %v", cfg.DeadLetter.Retention)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STEEPLE_SERVER_PORT", "9090")
	t.Setenv("STEEPLE_LOG_LEVEL", "debug")
	t.Setenv("STEEPLE_SEND_MAX_RETRIES", "5")
	t.Setenv("STEEPLE_BREAKER_RESET_TIMEOUT", "45s")
	t.Setenv("STEEPLE_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Outbound.MaxRetries != 5 {
		t.Errorf("Outbound.MaxRetries = %d", cfg.Outbound.MaxRetries)
	}
	if cfg.Outbound.BreakerResetTimeout != 45*time.Second {
		t.Errorf("BreakerResetTimeout = %v", cfg.Outbound.BreakerResetTimeout)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoad_UnmappedEnvIgnored(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STEEPLE_SOMETHING_UNKNOWN", "value")

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "steeple.yaml")
	yaml := `
server:
  port: 3000
outbound:
  rate_per_second: 25
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 from file", cfg.Server.Port)
	}
	if cfg.Outbound.RatePerSecond != 25 {
		t.Errorf("Outbound.RatePerSecond = %v, want 25", cfg.Outbound.RatePerSecond)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "steeple.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 3000\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("STEEPLE_SERVER_PORT", "4000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want env to win", cfg.Server.Port)
	}
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Security.AuthSecret = "secret"
		cfg.Security.WebhookPublicKey = "key"
		cfg.Security.PhoneSecret = testPhoneSecret
		cfg.Provider.BaseURL = "https://api.example.test"
		cfg.Provider.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing auth secret", func(c *Config) { c.Security.AuthSecret = "" }, "auth_secret"},
		{"missing webhook key", func(c *Config) { c.Security.WebhookPublicKey = "" }, "webhook_public_key"},
		{"short phone secret", func(c *Config) { c.Security.PhoneSecret = "short" }, "phone_secret"},
		{"missing provider url", func(c *Config) { c.Provider.BaseURL = "" }, "base_url"},
		{"missing provider key", func(c *Config) { c.Provider.APIKey = "" }, "api_key"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"empty data dir", func(c *Config) { c.Database.DataDir = "" }, "data_dir"},
		{"zero rate", func(c *Config) { c.Outbound.RatePerSecond = 0 }, "rate_per_second"},
		{"zero breaker threshold", func(c *Config) { c.Outbound.BreakerFailureThreshold = 0 }, "breaker_failure_threshold"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
