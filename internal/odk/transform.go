// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package odk

import (
	"time"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/models"
)

// NormalizeSubmissions prepares raw OData parent records for storage: the
// row key is the ODK "__id" and the sync watermark comes from the system
// submission date.
func NormalizeSubmissions(subs []models.Submission) {
	for i := range subs {
		s := &subs[i]
		if s.UUID == "" && s.SubmissionID != nil {
			s.UUID = *s.SubmissionID
		}
		if s.SubmittedDate == nil {
			if ts := parseODKTimestamp(s.System.GetString("submissionDate")); ts != nil {
				s.SubmittedDate = ts
			}
		}
	}
}

// NormalizePersonDetails keys child records by their ODK "__id".
func NormalizePersonDetails(details []models.PersonDetail) {
	for i := range details {
		d := &details[i]
		if d.UUID == "" && d.RecordID != nil {
			d.UUID = *d.RecordID
		}
	}
}

// parseODKTimestamp parses an ODK system timestamp (RFC 3339 with optional
// fractional seconds). Returns nil for empty or unparseable values.
func parseODKTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logging.Warn().Str("timestamp", value).Err(err).Msg("Could not parse submission timestamp")
		return nil
	}
	return &ts
}

// ExtractBuildingImage returns the building image filename from the
// property_description bag, or "" when the submission has none.
func ExtractBuildingImage(s *models.Submission) string {
	return s.PropertyDescription.GetString("building_image")
}

// ExtractAddressPlusCodeImage returns the address plus-code image filename
// from the property_location bag, or "" when absent.
func ExtractAddressPlusCodeImage(s *models.Submission) string {
	return s.PropertyLocation.GetString("address_plus_code_image")
}

// LatestSubmitted returns the newest submission date in the batch, for
// advancing the incremental sync watermark. Nil when no record carries one.
func LatestSubmitted(subs []models.Submission) *time.Time {
	var latest *time.Time
	for i := range subs {
		ts := subs[i].SubmittedDate
		if ts == nil {
			continue
		}
		if latest == nil || ts.After(*latest) {
			latest = ts
		}
	}
	return latest
}

// FilterByParents keeps only the child records whose parent reference is in
// the given set of parent keys. The child feed cannot be filtered at the
// API, so incremental cycles filter locally against the parents just
// processed.
func FilterByParents(details []models.PersonDetail, parentKeys map[string]struct{}) []models.PersonDetail {
	if len(parentKeys) == 0 {
		return nil
	}
	filtered := make([]models.PersonDetail, 0, len(details))
	for _, d := range details {
		if d.SubmissionRef == nil {
			continue
		}
		if _, ok := parentKeys[*d.SubmissionRef]; ok {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
