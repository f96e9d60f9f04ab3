// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/logging"
)

// DB wraps the PostgreSQL connection pool and provides data access for the
// sync service: parent/child upserts, the unified table swap, and sync
// bookkeeping.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// serviceInstance identifies this process (hostname-pid) in the sync
	// history audit trail.
	serviceInstance string

	maxConnectTries int
	connectDelay    time.Duration
}

// New opens a connection pool, verifies connectivity with retries, and
// creates the schema when missing.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:            conn,
		cfg:             cfg,
		serviceInstance: serviceInstanceID(),
		maxConnectTries: 3,
		connectDelay:    2 * time.Second,
	}

	db.configureConnectionPool()

	if err := db.waitForConnection(); err != nil {
		closeQuietly(conn)
		return nil, err
	}

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// configureConnectionPool sets pool parameters from configuration.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(db.cfg.MaxOpenConns)
	db.conn.SetMaxIdleConns(db.cfg.MaxIdleConns)
	db.conn.SetConnMaxLifetime(db.cfg.ConnMaxLifetime)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// waitForConnection pings with exponential backoff so a service start can
// outlast a database that is still coming up.
func (db *DB) waitForConnection() error {
	var lastErr error
	for attempt := 0; attempt < db.maxConnectTries; attempt++ {
		if attempt > 0 {
			delay := db.connectDelay * time.Duration(1<<uint(attempt-1))
			logging.Warn().
				Dur("retry_in", delay).
				Err(lastErr).
				Msg("Database not reachable yet, retrying")
			time.Sleep(delay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := db.conn.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to connect to database after %d attempts: %w", db.maxConnectTries, lastErr)
}

// Conn exposes the underlying pool for callers that need raw access.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	logging.Info().Msg("Closing database connection")
	return db.conn.Close()
}

// ServiceInstance returns the hostname-pid identifier written into sync
// history rows.
func (db *DB) ServiceInstance() string {
	return db.serviceInstance
}

// serviceInstanceID builds the hostname-pid identifier for this process.
func serviceInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// quoteIdent quotes a PostgreSQL identifier. Several column names carry ODK
// originals like "__id" and "person_details@odata.navigationLink" that must
// always be quoted.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// isConnectionError checks if an error indicates database connection loss.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "database is closed")
}
