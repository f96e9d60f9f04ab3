// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
)

// TableExists reports whether a table is visible on the current search
// path. Implements the unified builder's store.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

// FetchSubmissions loads every parent row in submission-date order.
func (db *DB) FetchSubmissions(ctx context.Context) ([]models.Submission, error) {
	start := time.Now()
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY "SubmittedDate" NULLS LAST, "UUID"`,
		columnList(submissionColumns), quoteIdent(db.cfg.MainTable))

	rows, err := db.conn.QueryContext(ctx, query)
	metrics.RecordDBQuery("select", db.cfg.MainTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}
	defer closeQuietly(rows)

	var result []models.Submission
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(
			&s.UUID, &s.SubmissionID,
			&s.SurveyDate, &s.SurveyStart, &s.SurveyEnd,
			&s.Logo, &s.StartGeopoint, &s.PropertyLocation, &s.PropertyDescription,
			&s.GeneratedNote, &s.SumOwner, &s.SumLandlord, &s.SumOccupant,
			&s.CheckCounts1, &s.CheckCounts2,
			&s.EndGroup, &s.Meta, &s.System, &s.PersonDetailsLink,
			&s.BuildingImageURL, &s.AddressPlusCodeURL, &s.SubmittedDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// FetchPersonDetails loads every child row in stable order.
func (db *DB) FetchPersonDetails(ctx context.Context) ([]models.PersonDetail, error) {
	start := time.Now()
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY "__Submissions-id", "UUID"`,
		columnList(personColumns), quoteIdent(db.cfg.PersonTable))

	rows, err := db.conn.QueryContext(ctx, query)
	metrics.RecordDBQuery("select", db.cfg.PersonTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch person details: %w", err)
	}
	defer closeQuietly(rows)

	var result []models.PersonDetail
	for rows.Next() {
		var d models.PersonDetail
		if err := rows.Scan(
			&d.UUID, &d.RecordID, &d.SubmissionRef, &d.RepeatPosition,
			&d.PersonType, &d.ShopAptUnitNumber, &d.Type, &d.BusinessName,
			&d.TaxRegistered, &d.TIN,
			&d.IndividualFirstName, &d.IndividualMiddleName, &d.IndividualLastName,
			&d.IndividualGender, &d.IndividualIDType, &d.IndividualNIN,
			&d.IndividualDriversLicence, &d.IndividualPassportNumber, &d.PassportCountry,
			&d.IndividualResidencePermitNumber, &d.ResidencePermitCountry,
			&d.IndividualDOB, &d.Mobile1, &d.Mobile2, &d.Email, &d.Occupancy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan person detail: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// unifiedExtraColumns are the columns the unified table carries on top of
// the parent projection.
var unifiedExtraColumns = []string{
	"person_details",
	"building_image_url_html", "address_plus_code_url_html",
	"commercial_income", "residential_income", "business_income",
	"commercial_tax_liability", "residential_tax_liability", "business_tax_liability",
	"total_building_rent",
	"processed_at", "tax_year",
}

// createUnifiedTableSQL builds DDL for a unified table under the given
// name (the staging table during a rebuild).
func (db *DB) createUnifiedTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
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
		"SubmittedDate" TIMESTAMPTZ,
		person_details JSONB NOT NULL DEFAULT '[]'::jsonb,
		building_image_url_html TEXT,
		address_plus_code_url_html TEXT,
		commercial_income DOUBLE PRECISION NOT NULL DEFAULT 0,
		residential_income DOUBLE PRECISION NOT NULL DEFAULT 0,
		business_income DOUBLE PRECISION NOT NULL DEFAULT 0,
		commercial_tax_liability DOUBLE PRECISION NOT NULL DEFAULT 0,
		residential_tax_liability DOUBLE PRECISION NOT NULL DEFAULT 0,
		business_tax_liability DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_building_rent DOUBLE PRECISION NOT NULL DEFAULT 0,
		processed_at TIMESTAMPTZ NOT NULL,
		tax_year INTEGER NOT NULL
	)`, quoteIdent(table))
}

// ReplaceUnified writes rows into a freshly created staging table, then
// swaps it into place in a single transaction. Readers of the unified table
// never see a partial rebuild; a failure before the swap leaves the
// previous table intact.
func (db *DB) ReplaceUnified(ctx context.Context, rows []models.UnifiedRow) error {
	unified := db.cfg.UnifiedTable
	staging := unified + "_new"
	old := unified + "_old"

	if _, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(staging))); err != nil {
		return fmt.Errorf("failed to drop stale staging table: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, db.createUnifiedTableSQL(staging)); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	if err := db.insertUnifiedRows(ctx, staging, rows); err != nil {
		return err
	}

	// Index failures are survivable: the table is still correct, just slow.
	indexStmt := fmt.Sprintf(`CREATE INDEX %s ON %s ("SubmittedDate")`,
		quoteIdent(staging+"_submitted_idx"), quoteIdent(staging))
	if _, err := db.conn.ExecContext(ctx, indexStmt); err != nil {
		logging.Warn().Err(err).Str("table", staging).Msg("Failed to index staging table")
	}

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin swap transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	swapStatements := []string{
		fmt.Sprintf(`ALTER TABLE IF EXISTS %s RENAME TO %s`, quoteIdent(unified), quoteIdent(old)),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(staging), quoteIdent(unified)),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(old)),
	}
	for _, stmt := range swapStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to swap unified table: %w", err)
		}
	}
	err = tx.Commit()
	metrics.RecordDBQuery("swap", unified, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to commit unified swap: %w", err)
	}
	return nil
}

func (db *DB) insertUnifiedRows(ctx context.Context, table string, rows []models.UnifiedRow) error {
	columns := append(append([]string{}, submissionColumns...), unifiedExtraColumns...)
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), columnList(columns), placeholders(len(columns)))

	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare unified insert: %w", err)
	}
	defer closeWithLog(stmt, "prepared statement")

	for i := range rows {
		persons, err := json.Marshal(rows[i].PersonDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal person details for %s: %w", rows[i].UUID, err)
		}

		values := submissionValues(&rows[i].Submission)
		values = append(values,
			persons,
			rows[i].BuildingImageHTML, rows[i].AddressPlusCodeHTML,
			rows[i].Totals.CommercialIncome, rows[i].Totals.ResidentialIncome,
			rows[i].Totals.BusinessIncome,
			rows[i].Totals.CommercialTaxLiability, rows[i].Totals.ResidentialTaxLiability,
			rows[i].Totals.BusinessTaxLiability,
			rows[i].Totals.TotalBuildingRent,
			rows[i].ProcessedAt, rows[i].TaxYear,
		)
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("failed to insert unified row %s: %w", rows[i].UUID, err)
		}
	}

	err = tx.Commit()
	metrics.RecordDBQuery("insert", table, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to commit unified insert: %w", err)
	}
	return nil
}

// SyncPresentationFields re-renders the unified table's image markup and
// raw URL columns from the parent table. Run after a URL refresh so the
// unified table picks up fresh signatures without a full rebuild. No-op
// when the unified table does not exist yet.
func (db *DB) SyncPresentationFields(ctx context.Context) (int64, error) {
	exists, err := db.TableExists(ctx, db.cfg.UnifiedTable)
	if err != nil {
		return 0, err
	}
	if !exists {
		logging.Debug().Str("table", db.cfg.UnifiedTable).Msg("Unified table missing, skipping presentation sync")
		return 0, nil
	}

	start := time.Now()
	query := fmt.Sprintf(`UPDATE %s AS u SET
		building_image_url = m.building_image_url,
		address_plus_code_url = m.address_plus_code_url,
		building_image_url_html = CASE WHEN m.building_image_url IS NULL OR m.building_image_url = ''
			THEN NULL
			ELSE '<img src="' || m.building_image_url || '" width="200" />' END,
		address_plus_code_url_html = CASE WHEN m.address_plus_code_url IS NULL OR m.address_plus_code_url = ''
			THEN NULL
			ELSE '<img src="' || m.address_plus_code_url || '" width="200" />' END
		FROM %s AS m
		WHERE u."UUID" = m."UUID"
		  AND (u.building_image_url IS DISTINCT FROM m.building_image_url
		    OR u.address_plus_code_url IS DISTINCT FROM m.address_plus_code_url)`,
		quoteIdent(db.cfg.UnifiedTable), quoteIdent(db.cfg.MainTable))

	res, err := db.conn.ExecContext(ctx, query)
	metrics.RecordDBQuery("update", db.cfg.UnifiedTable, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to sync presentation fields: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if affected > 0 {
		logging.Info().Int64("rows", affected).Msg("Refreshed unified presentation fields")
	}
	return affected, nil
}
