// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
)

// maxErrorMessageLen bounds stored error text so a pathological upstream
// response cannot bloat the tracking tables.
const maxErrorMessageLen = 1000

// recentHistoryLimit is how many audit rows the statistics view returns.
const recentHistoryLimit = 10

func truncateError(msg string) string {
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}

// StartSync opens one audit row for a stream attempt and marks the stream
// in progress. Returns the history row id for CompleteSync / FailSync.
func (db *DB) StartSync(ctx context.Context, stream string) (int64, error) {
	start := time.Now()
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO odk_sync_history (sync_type, status, service_instance)
		 VALUES ($1, $2, $3) RETURNING id`,
		stream, models.SyncStatusInProgress, db.serviceInstance).Scan(&id)
	if err != nil {
		metrics.RecordDBQuery("insert", "odk_sync_history", time.Since(start), err)
		return 0, fmt.Errorf("failed to open sync history for %s: %w", stream, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO odk_sync_status (sync_type, last_attempt_timestamp, last_sync_status, updated_at)
		 VALUES ($1, now(), $2, now())
		 ON CONFLICT (sync_type) DO UPDATE SET
			last_attempt_timestamp = now(),
			last_sync_status = $2,
			updated_at = now()`,
		stream, models.SyncStatusInProgress)
	metrics.RecordDBQuery("upsert", "odk_sync_status", time.Since(start), err)
	if err != nil {
		return id, fmt.Errorf("failed to mark %s in progress: %w", stream, err)
	}
	return id, nil
}

// CompleteSync closes an audit row as successful and advances the stream's
// watermark. A nil watermark leaves the previous one in place, so an empty
// fetch never rewinds incremental sync.
func (db *DB) CompleteSync(ctx context.Context, id int64, stream string, records int, watermark *time.Time, metadata models.AttrMap) error {
	start := time.Now()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE odk_sync_history SET
			status = $2,
			records_processed = $3,
			duration_seconds = EXTRACT(EPOCH FROM (now() - sync_timestamp))::int,
			sync_metadata = $4
		 WHERE id = $1`,
		id, models.SyncStatusSuccess, records, metadata)
	if err != nil {
		metrics.RecordDBQuery("update", "odk_sync_history", time.Since(start), err)
		return fmt.Errorf("failed to close sync history %d: %w", id, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE odk_sync_status SET
			last_sync_timestamp = COALESCE($2, last_sync_timestamp),
			last_sync_status = $3,
			last_error_message = NULL,
			successful_sync_count = successful_sync_count + 1,
			last_records_processed = $4,
			updated_at = now()
		 WHERE sync_type = $1`,
		stream, watermark, models.SyncStatusSuccess, records)
	metrics.RecordDBQuery("update", "odk_sync_status", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark %s successful: %w", stream, err)
	}

	logging.Debug().
		Str("stream", stream).
		Int("records", records).
		Msg("Sync stream completed")
	return nil
}

// FailSync closes an audit row as failed and records the error against the
// stream status.
func (db *DB) FailSync(ctx context.Context, id int64, stream, errMsg string) error {
	start := time.Now()
	errMsg = truncateError(errMsg)

	_, err := db.conn.ExecContext(ctx,
		`UPDATE odk_sync_history SET
			status = $2,
			duration_seconds = EXTRACT(EPOCH FROM (now() - sync_timestamp))::int,
			error_message = $3
		 WHERE id = $1`,
		id, models.SyncStatusError, errMsg)
	if err != nil {
		metrics.RecordDBQuery("update", "odk_sync_history", time.Since(start), err)
		return fmt.Errorf("failed to close sync history %d: %w", id, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE odk_sync_status SET
			last_sync_status = $2,
			last_error_message = $3,
			failed_sync_count = failed_sync_count + 1,
			updated_at = now()
		 WHERE sync_type = $1`,
		stream, models.SyncStatusError, errMsg)
	metrics.RecordDBQuery("update", "odk_sync_status", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", stream, err)
	}
	return nil
}

// LastSyncTime returns a stream's watermark, nil when the stream has never
// completed successfully.
func (db *DB) LastSyncTime(ctx context.Context, stream string) (*time.Time, error) {
	start := time.Now()
	var ts sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT last_sync_timestamp FROM odk_sync_status WHERE sync_type = $1`,
		stream).Scan(&ts)
	metrics.RecordDBQuery("select", "odk_sync_status", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark for %s: %w", stream, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time
	return &t, nil
}

// Statistics assembles the ops view: every stream's current status plus the
// most recent audit rows. Healthy means no stream's latest state is an
// error.
func (db *DB) Statistics(ctx context.Context) (*models.SyncStatistics, error) {
	streams, err := db.syncStatuses(ctx)
	if err != nil {
		return nil, err
	}
	history, err := db.recentHistory(ctx)
	if err != nil {
		return nil, err
	}

	healthy := true
	for i := range streams {
		if streams[i].LastStatus == models.SyncStatusError {
			healthy = false
			break
		}
	}

	return &models.SyncStatistics{
		Streams:       streams,
		RecentHistory: history,
		Healthy:       healthy,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

func (db *DB) syncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT sync_type, last_sync_timestamp, last_attempt_timestamp, last_sync_status,
			last_error_message, successful_sync_count, failed_sync_count,
			last_records_processed, created_at, updated_at
		 FROM odk_sync_status ORDER BY sync_type`)
	metrics.RecordDBQuery("select", "odk_sync_status", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync statuses: %w", err)
	}
	defer closeQuietly(rows)

	var statuses []models.SyncStatus
	for rows.Next() {
		var s models.SyncStatus
		if err := rows.Scan(
			&s.Stream, &s.LastSyncAt, &s.LastAttemptAt, &s.LastStatus,
			&s.LastError, &s.SuccessCount, &s.FailureCount,
			&s.LastRecords, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func (db *DB) recentHistory(ctx context.Context) ([]models.SyncHistory, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, sync_type, sync_timestamp, status, records_processed,
			duration_seconds, error_message, sync_metadata, COALESCE(service_instance, '')
		 FROM odk_sync_history ORDER BY sync_timestamp DESC LIMIT $1`,
		recentHistoryLimit)
	metrics.RecordDBQuery("select", "odk_sync_history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync history: %w", err)
	}
	defer closeQuietly(rows)

	var history []models.SyncHistory
	for rows.Next() {
		var h models.SyncHistory
		if err := rows.Scan(
			&h.ID, &h.Stream, &h.StartedAt, &h.Status, &h.Records,
			&h.DurationSeconds, &h.Error, &h.Metadata, &h.ServiceInstance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// CleanupHistory deletes audit rows older than the retention window.
func (db *DB) CleanupHistory(ctx context.Context, retentionDays int) (int64, error) {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM odk_sync_history WHERE sync_timestamp < now() - make_interval(days => $1)`,
		retentionDays)
	metrics.RecordDBQuery("delete", "odk_sync_history", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to clean sync history: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if deleted > 0 {
		logging.Info().Int64("deleted", deleted).Msg("Pruned old sync history")
	}
	return deleted, nil
}
