// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/odksync/config.yaml",
	"/etc/odksync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		ODK: ODKConfig{
			Timeout:   60 * time.Second,
			RateLimit: 5,
			Burst:     10,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "postgres",
			User:            "postgres",
			Password:        "postgres",
			SSLMode:         "prefer",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			MainTable:       "GRARentalDataCollection",
		},
		Storage: StorageConfig{
			BaseFolder:       "odk_images",
			URLTTL:           24 * time.Hour,
			RefreshThreshold: 2 * time.Hour,
			RefreshEnabled:   true,
		},
		Sync: SyncConfig{
			Interval:             60 * time.Second,
			MaxWorkers:           10,
			PrioritizeNew:        true,
			RetryAttempts:        5,
			RetryDelay:           2 * time.Second,
			LinkStrategy:         "prefix",
			Separator:            "_",
			HistoryRetentionDays: 30,
		},
		Server: ServerConfig{
			Port:            8090,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// ODK_BASE_URL -> odk.base_url, PG_HOST -> database.host, etc.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyDerivedDefaults fills table names that derive from the main table.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Database.PersonTable == "" {
		cfg.Database.PersonTable = cfg.Database.MainTable + "_person_details"
	}
	if cfg.Database.UnifiedTable == "" {
		cfg.Database.UnifiedTable = cfg.Database.MainTable + "_unified"
	}
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none found.
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

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so that unrelated environment variables
// never pollute the configuration.
//
// Examples:
//   - ODK_BASE_URL -> odk.base_url
//   - PG_HOST -> database.host
//   - AWS_BUCKET_NAME -> storage.bucket
//   - SYNC_INTERVAL -> sync.interval
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// ODK Central mappings
		"odk_base_url":   "odk.base_url",
		"odk_project_id": "odk.project_id",
		"odk_form_id":    "odk.form_id",
		"odata_user":     "odk.email",
		"odata_pass":     "odk.password",
		"odk_timeout":    "odk.timeout",
		"odk_rate_limit": "odk.rate_limit",
		"odk_burst":      "odk.burst",

		// PostgreSQL mappings
		"pg_host":              "database.host",
		"pg_port":              "database.port",
		"pg_db":                "database.database",
		"pg_user":              "database.user",
		"pg_pass":              "database.password",
		"pg_sslmode":           "database.ssl_mode",
		"pg_max_open_conns":    "database.max_open_conns",
		"pg_max_idle_conns":    "database.max_idle_conns",
		"pg_conn_max_lifetime": "database.conn_max_lifetime",
		"main_table":           "database.main_table",
		"person_table":         "database.person_table",
		"unified_table":        "database.unified_table",

		// S3 / object storage mappings
		"aws_bucket_name":       "storage.bucket",
		"aws_region":            "storage.region",
		"aws_default_region":    "storage.region",
		"aws_access_key_id":     "storage.access_key_id",
		"aws_secret_access_key": "storage.secret_access_key",
		"s3_endpoint":           "storage.endpoint",
		"s3_base_folder":        "storage.base_folder",

		// Signed URL lifecycle mappings
		"url_ttl":               "storage.url_ttl",
		"url_refresh_threshold": "storage.refresh_threshold",
		"enable_url_refresh":    "storage.refresh_enabled",

		// Sync mappings
		"sync_interval":               "sync.interval",
		"max_workers":                 "sync.max_workers",
		"prioritize_new":              "sync.prioritize_new",
		"sync_retry_attempts":         "sync.retry_attempts",
		"sync_retry_delay":            "sync.retry_delay",
		"sync_link_strategy":          "sync.link_strategy",
		"sync_separator":              "sync.separator",
		"sync_history_retention_days": "sync.history_retention_days",

		// Server mappings
		"http_port":           "server.port",
		"http_host":           "server.host",
		"http_timeout":        "server.timeout",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Skip unmapped keys.
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The caller is responsible for mutex protection when swapping configuration
// during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
