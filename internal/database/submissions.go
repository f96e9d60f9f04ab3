// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
	"github.com/ripplenami/odksync/internal/storage"
)

// submissionColumns is the parent table's column order, shared by the
// upsert and fetch paths so they cannot drift apart.
var submissionColumns = []string{
	"UUID", "__id",
	"survey_date", "survey_start", "survey_end",
	"logo", "start_geopoint", "property_location", "property_description",
	"generated_note_name_35", "sum_owner", "sum_landlord", "sum_occupant",
	"check_counts_1", "check_counts_2",
	"End", "meta", "__system", "person_details@odata.navigationLink",
	"building_image_url", "address_plus_code_url", "SubmittedDate",
}

// personColumns is the child table's column order.
var personColumns = []string{
	"UUID", "__id", "__Submissions-id", "repeat_position",
	"person_type", "shop_apt_unit_number", "type", "business_name",
	"tax_registered", "tin",
	"individual_first_name", "individual_middle_name", "individual_last_name",
	"individual_gender", "individual_id_type", "individual_nin",
	"individual_drivers_licence", "individual_passport_number", "passport_country",
	"individual_residence_permit_number", "residence_permit_country",
	"individual_dob", "mobile_1", "mobile_2", "email", "occupancy",
}

// columnList renders a quoted, comma-separated column list.
func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// placeholders renders $1..$n.
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

// conflictAssignments renders the DO UPDATE SET clause for every column
// except the key. Columns named in preserve only overwrite when the
// incoming value is non-null, so re-synced records cannot wipe state that
// is populated out of band (the re-hosted image URLs).
func conflictAssignments(table string, columns []string, preserve map[string]bool) string {
	assignments := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		q := quoteIdent(c)
		if preserve[c] {
			assignments = append(assignments,
				fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", q, q, quoteIdent(table), q))
			continue
		}
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	return strings.Join(assignments, ", ")
}

// submissionValues orders one record's fields to match submissionColumns.
func submissionValues(s *models.Submission) []interface{} {
	return []interface{}{
		s.UUID, s.SubmissionID,
		s.SurveyDate, s.SurveyStart, s.SurveyEnd,
		s.Logo, s.StartGeopoint, s.PropertyLocation, s.PropertyDescription,
		s.GeneratedNote, s.SumOwner, s.SumLandlord, s.SumOccupant,
		s.CheckCounts1, s.CheckCounts2,
		s.EndGroup, s.Meta, s.System, s.PersonDetailsLink,
		s.BuildingImageURL, s.AddressPlusCodeURL, s.SubmittedDate,
	}
}

// personValues orders one record's fields to match personColumns.
func personValues(d *models.PersonDetail) []interface{} {
	return []interface{}{
		d.UUID, d.RecordID, d.SubmissionRef, d.RepeatPosition,
		d.PersonType, d.ShopAptUnitNumber, d.Type, d.BusinessName,
		d.TaxRegistered, d.TIN,
		d.IndividualFirstName, d.IndividualMiddleName, d.IndividualLastName,
		d.IndividualGender, d.IndividualIDType, d.IndividualNIN,
		d.IndividualDriversLicence, d.IndividualPassportNumber, d.PassportCountry,
		d.IndividualResidencePermitNumber, d.ResidencePermitCountry,
		d.IndividualDOB, d.Mobile1, d.Mobile2, d.Email, d.Occupancy,
	}
}

// UpsertSubmissions inserts or updates parent records keyed by UUID.
// Records without a UUID are skipped with a warning. Returns the number of
// rows written.
func (db *DB) UpsertSubmissions(ctx context.Context, subs []models.Submission) (int, error) {
	if len(subs) == 0 {
		return 0, nil
	}

	start := time.Now()
	written, err := db.upsertSubmissions(ctx, subs)
	metrics.RecordDBQuery("upsert", db.cfg.MainTable, time.Since(start), err)
	if err != nil {
		return written, err
	}

	logging.Info().Int("count", written).Str("table", db.cfg.MainTable).Msg("Upserted main submissions")
	return written, nil
}

func (db *DB) upsertSubmissions(ctx context.Context, subs []models.Submission) (int, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("UUID") DO UPDATE SET %s`,
		quoteIdent(db.cfg.MainTable),
		columnList(submissionColumns),
		placeholders(len(submissionColumns)),
		conflictAssignments(db.cfg.MainTable, submissionColumns, map[string]bool{
			"building_image_url":    true,
			"address_plus_code_url": true,
		}),
	)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer closeWithLog(stmt, "prepared statement")

	written := 0
	for i := range subs {
		if subs[i].UUID == "" {
			logging.Warn().Msg("Skipping submission without UUID")
			continue
		}
		if _, err := stmt.ExecContext(ctx, submissionValues(&subs[i])...); err != nil {
			return written, fmt.Errorf("failed to upsert submission %s: %w", subs[i].UUID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return written, nil
}

// UpsertPersonDetails inserts or updates child records keyed by UUID.
func (db *DB) UpsertPersonDetails(ctx context.Context, details []models.PersonDetail) (int, error) {
	if len(details) == 0 {
		return 0, nil
	}

	start := time.Now()
	written, err := db.upsertPersonDetails(ctx, details)
	metrics.RecordDBQuery("upsert", db.cfg.PersonTable, time.Since(start), err)
	if err != nil {
		return written, err
	}

	logging.Info().Int("count", written).Str("table", db.cfg.PersonTable).Msg("Upserted person details")
	return written, nil
}

func (db *DB) upsertPersonDetails(ctx context.Context, details []models.PersonDetail) (int, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("UUID") DO UPDATE SET %s`,
		quoteIdent(db.cfg.PersonTable),
		columnList(personColumns),
		placeholders(len(personColumns)),
		conflictAssignments(db.cfg.PersonTable, personColumns, nil),
	)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer closeWithLog(stmt, "prepared statement")

	written := 0
	for i := range details {
		if details[i].UUID == "" {
			logging.Warn().Msg("Skipping person detail without UUID")
			continue
		}
		if _, err := stmt.ExecContext(ctx, personValues(&details[i])...); err != nil {
			return written, fmt.Errorf("failed to upsert person detail %s: %w", details[i].UUID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return written, nil
}

// ExistingSubmissionIDs returns every stored parent key mapped to whether
// the row already carries a re-hosted building image URL. The attachment
// stage uses this to skip already-processed submissions and to prioritize
// never-seen ones.
func (db *DB) ExistingSubmissionIDs(ctx context.Context) (map[string]bool, error) {
	start := time.Now()
	query := fmt.Sprintf(`SELECT "UUID", building_image_url IS NOT NULL FROM %s`, quoteIdent(db.cfg.MainTable))

	rows, err := db.conn.QueryContext(ctx, query)
	metrics.RecordDBQuery("select", db.cfg.MainTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing submissions: %w", err)
	}
	defer closeQuietly(rows)

	existing := make(map[string]bool)
	for rows.Next() {
		var uuid string
		var hasImage bool
		if err := rows.Scan(&uuid, &hasImage); err != nil {
			return nil, fmt.Errorf("failed to scan submission id: %w", err)
		}
		existing[uuid] = hasImage
	}
	return existing, rows.Err()
}

// ListImageRows returns every parent row carrying at least one image URL.
// Implements the URL refresher's row store.
func (db *DB) ListImageRows(ctx context.Context) ([]storage.ImageRow, error) {
	start := time.Now()
	query := fmt.Sprintf(
		`SELECT "UUID", building_image_url, address_plus_code_url FROM %s
		 WHERE building_image_url IS NOT NULL OR address_plus_code_url IS NOT NULL`,
		quoteIdent(db.cfg.MainTable))

	rows, err := db.conn.QueryContext(ctx, query)
	metrics.RecordDBQuery("select", db.cfg.MainTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list image rows: %w", err)
	}
	defer closeQuietly(rows)

	var result []storage.ImageRow
	for rows.Next() {
		var row storage.ImageRow
		if err := rows.Scan(&row.UUID, &row.BuildingImageURL, &row.AddressPlusCodeURL); err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// UpdateImageURLs persists both URL columns for one parent row.
func (db *DB) UpdateImageURLs(ctx context.Context, row storage.ImageRow) error {
	start := time.Now()
	query := fmt.Sprintf(
		`UPDATE %s SET building_image_url = $2, address_plus_code_url = $3 WHERE "UUID" = $1`,
		quoteIdent(db.cfg.MainTable))

	_, err := db.conn.ExecContext(ctx, query, row.UUID, row.BuildingImageURL, row.AddressPlusCodeURL)
	metrics.RecordDBQuery("update", db.cfg.MainTable, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update image URLs for %s: %w", row.UUID, err)
	}
	return nil
}
