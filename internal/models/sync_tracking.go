// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package models

import "time"

// Sync stream identifiers. Each stream keeps one SyncStatus row and
// append-only SyncHistory rows.
const (
	StreamMainSubmissions = "main_submissions"
	StreamPersonDetails   = "person_details"
	StreamImageProcessing = "image_processing"
	StreamURLRefresh      = "url_refresh"
	StreamUnifiedRebuild  = "unified_rebuild"
)

// Sync attempt states.
const (
	SyncStatusPending    = "pending"
	SyncStatusInProgress = "in_progress"
	SyncStatusSuccess    = "success"
	SyncStatusError      = "error"
)

// SyncStatus tracks the current state of one sync stream (one row per
// stream in odk_sync_status).
type SyncStatus struct {
	Stream        string     `json:"sync_type"`
	LastSyncAt    *time.Time `json:"last_sync_timestamp"`
	LastAttemptAt *time.Time `json:"last_attempt_timestamp"`
	LastStatus    string     `json:"last_sync_status"`
	LastError     *string    `json:"last_error_message"`
	SuccessCount  int64      `json:"successful_sync_count"`
	FailureCount  int64      `json:"failed_sync_count"`
	LastRecords   *int       `json:"last_records_processed"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SyncHistory is one append-only audit row in odk_sync_history.
type SyncHistory struct {
	ID              int64     `json:"id"`
	Stream          string    `json:"sync_type"`
	StartedAt       time.Time `json:"sync_timestamp"`
	Status          string    `json:"status"`
	Records         *int      `json:"records_processed"`
	DurationSeconds *int      `json:"duration_seconds"`
	Error           *string   `json:"error_message"`
	Metadata        AttrMap   `json:"sync_metadata"`

	// ServiceInstance identifies the writing process as hostname-pid so
	// overlapping deployments can be told apart in the audit trail.
	ServiceInstance string `json:"service_instance"`
}

// SyncStatistics is the aggregate view served by the ops API.
type SyncStatistics struct {
	Streams       []SyncStatus  `json:"streams"`
	RecentHistory []SyncHistory `json:"recent_history"`
	Healthy       bool          `json:"healthy"`
	GeneratedAt   time.Time     `json:"generated_at"`
}
