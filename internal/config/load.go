// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"steeple.yaml",
	"steeple.yml",
	"/etc/steeple/config.yaml",
	"/etc/steeple/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "STEEPLE_CONFIG"

// envPrefix namespaces Steeple's environment variables.
const envPrefix = "STEEPLE_"

// Load builds the configuration from layered sources:
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. STEEPLE_-prefixed environment variables (highest priority)
//
// STEEPLE_SERVER_PORT maps to server.port, STEEPLE_SECURITY_AUTH_SECRET to
// security.auth_secret, and so on per the env mapping table.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings translates environment variable names (lowercased, prefix
// stripped) to koanf config paths. Unmapped variables are ignored so stray
// environment entries cannot pollute the configuration.
var envMappings = map[string]string{
	"server_host":                    "server.host",
	"server_port":                    "server.port",
	"server_request_timeout":         "server.request_timeout",
	"server_shutdown_timeout":        "server.shutdown_timeout",
	"server_webhook_rate_per_minute": "server.webhook_rate_per_minute",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"data_dir": "database.data_dir",

	"auth_secret":        "security.auth_secret",
	"webhook_public_key": "security.webhook_public_key",
	"webhook_tolerance":  "security.webhook_tolerance",
	"phone_secret":       "security.phone_secret",

	"provider_base_url": "provider.base_url",
	"provider_api_key":  "provider.api_key",
	"provider_timeout":  "provider.timeout",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",
	"redis_ttl":      "redis.ttl",

	"send_rate_per_second":      "outbound.rate_per_second",
	"send_burst":                "outbound.burst",
	"send_max_retries":          "outbound.max_retries",
	"send_initial_delay":        "outbound.initial_delay",
	"send_max_delay":            "outbound.max_delay",
	"send_backoff_multiplier":   "outbound.backoff_multiplier",
	"send_jitter_factor":        "outbound.jitter_factor",
	"breaker_failure_threshold": "outbound.breaker_failure_threshold",
	"breaker_reset_timeout":     "outbound.breaker_reset_timeout",
	"breaker_half_open_probes":  "outbound.breaker_half_open_probes",

	"dlq_interval":     "dead_letter.interval",
	"dlq_batch_size":   "dead_letter.batch_size",
	"dlq_max_retries":  "dead_letter.max_retries",
	"dlq_base_backoff": "dead_letter.base_backoff",
	"dlq_max_backoff":  "dead_letter.max_backoff",
	"dlq_retention":    "dead_letter.retention",

	"notify_webhook_url": "notify.webhook_url",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
