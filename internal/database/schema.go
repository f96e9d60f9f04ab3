// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package database

import (
	"fmt"

	"github.com/ripplenami/odksync/internal/logging"
)

// initialize creates the parent, child, and sync tracking tables when they
// do not exist. The unified table is not created here: it only ever comes
// into being through a rebuild's staging-table swap.
func (db *DB) initialize() error {
	statements := []string{
		db.createMainTableSQL(),
		db.createPersonTableSQL(),
		createSyncStatusSQL,
		createSyncHistorySQL,
	}
	statements = append(statements, db.indexSQL()...)

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	logging.Info().
		Str("main_table", db.cfg.MainTable).
		Str("person_table", db.cfg.PersonTable).
		Msg("Database schema ready")
	return nil
}

// createMainTableSQL builds the DDL for the parent submissions table.
// Column names follow the ODK OData field names; the system fields keep
// their quoted originals so downstream tools see the same shape the form
// produces.
func (db *DB) createMainTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		"UUID" TEXT PRIMARY KEY,
		"__id" TEXT,
		survey_date TIMESTAMPTZ,
		survey_start TIMESTAMPTZ,
		survey_end TIMESTAMPTZ,
		logo TEXT,
		start_geopoint JSONB,
		property_location JSONB,
		property_description JSONB,
		generated_note_name_35 TEXT,
		sum_owner TEXT,
		sum_landlord TEXT,
		sum_occupant TEXT,
		check_counts_1 TEXT,
		check_counts_2 TEXT,
		"End" JSONB,
		meta JSONB,
		"__system" JSONB,
		"person_details@odata.navigationLink" TEXT,
		building_image_url TEXT,
		address_plus_code_url TEXT,
		"SubmittedDate" TIMESTAMPTZ
	)`, quoteIdent(db.cfg.MainTable))
}

// createPersonTableSQL builds the DDL for the person_details child table.
func (db *DB) createPersonTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		"UUID" TEXT PRIMARY KEY,
		"__id" TEXT,
		"__Submissions-id" TEXT,
		repeat_position TEXT,
		person_type JSONB,
		shop_apt_unit_number TEXT,
		type TEXT,
		business_name TEXT,
		tax_registered TEXT,
		tin TEXT,
		individual_first_name TEXT,
		individual_middle_name TEXT,
		individual_last_name TEXT,
		individual_gender TEXT,
		individual_id_type TEXT,
		individual_nin TEXT,
		individual_drivers_licence TEXT,
		individual_passport_number TEXT,
		passport_country TEXT,
		individual_residence_permit_number TEXT,
		residence_permit_country TEXT,
		individual_dob TEXT,
		mobile_1 TEXT,
		mobile_2 TEXT,
		email TEXT,
		occupancy JSONB
	)`, quoteIdent(db.cfg.PersonTable))
}

const createSyncStatusSQL = `CREATE TABLE IF NOT EXISTS odk_sync_status (
	sync_type VARCHAR(50) PRIMARY KEY,
	last_sync_timestamp TIMESTAMPTZ,
	last_attempt_timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_sync_status VARCHAR(20) NOT NULL DEFAULT 'pending',
	last_error_message TEXT,
	successful_sync_count INTEGER NOT NULL DEFAULT 0,
	failed_sync_count INTEGER NOT NULL DEFAULT 0,
	last_records_processed INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const createSyncHistorySQL = `CREATE TABLE IF NOT EXISTS odk_sync_history (
	id BIGSERIAL PRIMARY KEY,
	sync_type VARCHAR(50) NOT NULL,
	sync_timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	status VARCHAR(20) NOT NULL,
	records_processed INTEGER,
	duration_seconds INTEGER,
	error_message TEXT,
	sync_metadata JSONB,
	service_instance VARCHAR(100)
)`

// indexSQL returns the secondary index statements.
func (db *DB) indexSQL() []string {
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("SubmittedDate")`,
			quoteIdent(db.cfg.MainTable+"_submitted_idx"), quoteIdent(db.cfg.MainTable)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("__Submissions-id")`,
			quoteIdent(db.cfg.PersonTable+"_parent_idx"), quoteIdent(db.cfg.PersonTable)),
		`CREATE INDEX IF NOT EXISTS odk_sync_history_type_idx ON odk_sync_history (sync_type)`,
		`CREATE INDEX IF NOT EXISTS odk_sync_history_ts_idx ON odk_sync_history (sync_timestamp)`,
	}
}
