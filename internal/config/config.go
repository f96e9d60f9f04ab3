// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment
// variables and an optional YAML config file.
//
// Loading order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config file: optional YAML file (config.yaml)
//  3. Environment variables: override any setting
//
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	ODK      ODKConfig      `koanf:"odk"`
	Database DatabaseConfig `koanf:"database"`
	Storage  StorageConfig  `koanf:"storage"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ODKConfig holds ODK Central connection settings.
//
// Environment Variables:
//   - ODK_BASE_URL: ODK Central base URL (e.g., https://central.example.org)
//   - ODK_PROJECT_ID: numeric project identifier
//   - ODK_FORM_ID: form identifier (e.g., GRARentalDataCollection)
//   - ODATA_USER / ODATA_PASS: web-user credentials, used both for OData
//     basic auth and for session-token creation for attachment downloads
type ODKConfig struct {
	BaseURL   string `koanf:"base_url" validate:"required"`
	ProjectID string `koanf:"project_id" validate:"required"`
	FormID    string `koanf:"form_id" validate:"required"`
	Email     string `koanf:"email" validate:"required"`
	Password  string `koanf:"password" validate:"required"`

	// Timeout bounds a single HTTP request to ODK Central.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// RateLimit caps outgoing requests per second; Burst is the bucket size.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	Burst     int     `koanf:"burst" validate:"min=1"`
}

// SubmissionsURL returns the OData feed URL for the main submissions table.
func (c ODKConfig) SubmissionsURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/forms/%s.svc/Submissions", c.BaseURL, c.ProjectID, c.FormID)
}

// PersonDetailsURL returns the OData feed URL for the person_details repeat group.
func (c ODKConfig) PersonDetailsURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/forms/%s.svc/Submissions.person_details", c.BaseURL, c.ProjectID, c.FormID)
}

// AttachmentURL returns the direct API URL for a submission attachment.
func (c ODKConfig) AttachmentURL(submissionID, filename string) string {
	return fmt.Sprintf("%s/v1/projects/%s/forms/%s/submissions/%s/attachments/%s",
		c.BaseURL, c.ProjectID, c.FormID, submissionID, filename)
}

// SessionURL returns the session-token endpoint.
func (c ODKConfig) SessionURL() string {
	return fmt.Sprintf("%s/v1/sessions", c.BaseURL)
}

// DatabaseConfig holds PostgreSQL connection settings.
//
// Environment Variables: PG_HOST, PG_PORT, PG_DB, PG_USER, PG_PASS, PG_SSLMODE
type DatabaseConfig struct {
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	Database string `koanf:"database" validate:"required"`
	User     string `koanf:"user" validate:"required"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`

	// Table names. The unified table is derived as MainTable + "_unified" and
	// the person details table as MainTable + "_person_details" when empty.
	MainTable    string `koanf:"main_table"`
	PersonTable  string `koanf:"person_table"`
	UnifiedTable string `koanf:"unified_table"`
}

// DSN returns a pgx-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// StorageConfig holds S3-compatible object storage settings and the signed
// URL lifecycle parameters.
//
// Environment Variables:
//   - AWS_BUCKET_NAME, AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT: optional custom endpoint for S3-compatible stores
//   - S3_BASE_FOLDER: key prefix for all re-hosted images (default: odk_images)
//   - URL_TTL: signed URL validity (default: 24h)
//   - URL_REFRESH_THRESHOLD: refresh URLs expiring within this window (default: 2h)
//   - ENABLE_URL_REFRESH: toggle the refresh stage (default: true)
type StorageConfig struct {
	Bucket          string `koanf:"bucket" validate:"required"`
	Region          string `koanf:"region" validate:"required"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`

	BaseFolder string `koanf:"base_folder" validate:"required"`

	URLTTL           time.Duration `koanf:"url_ttl" validate:"min=1m"`
	RefreshThreshold time.Duration `koanf:"refresh_threshold" validate:"min=1m"`
	RefreshEnabled   bool          `koanf:"refresh_enabled"`
}

// SyncConfig holds the periodic synchronization settings.
//
// Environment Variables: SYNC_INTERVAL, MAX_WORKERS, PRIORITIZE_NEW,
// SYNC_RETRY_ATTEMPTS, SYNC_RETRY_DELAY, SYNC_LINK_STRATEGY, SYNC_SEPARATOR,
// SYNC_HISTORY_RETENTION_DAYS
type SyncConfig struct {
	Interval time.Duration `koanf:"interval" validate:"min=1s"`

	// MaxWorkers bounds the attachment-processing and URL-refresh pools.
	MaxWorkers int `koanf:"max_workers" validate:"min=1"`

	// PrioritizeNew processes never-seen submissions before re-checks.
	PrioritizeNew bool `koanf:"prioritize_new"`

	RetryAttempts int           `koanf:"retry_attempts" validate:"min=0"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// LinkStrategy selects how child records are tied to their parent:
	// prefix (split composite key), direct (explicit parent reference),
	// or hybrid (direct when present, else prefix).
	LinkStrategy string `koanf:"link_strategy" validate:"oneof=prefix direct hybrid"`

	// Separator splits composite child keys, e.g. "P123_4" -> "P123".
	Separator string `koanf:"separator" validate:"required"`

	// HistoryRetentionDays prunes sync_history rows older than this.
	HistoryRetentionDays int `koanf:"history_retention_days" validate:"min=1"`
}

// ServerConfig holds the operational HTTP server settings.
//
// Environment Variables: HTTP_PORT, HTTP_HOST, HTTP_TIMEOUT,
// RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW
type ServerConfig struct {
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Host    string        `koanf:"host" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables: LOG_LEVEL, LOG_FORMAT, LOG_CALLER
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Load loads and validates the full configuration.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
