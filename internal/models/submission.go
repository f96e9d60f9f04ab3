// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package models

import "time"

// Submission is one parent record from the main form table. Column names in
// Postgres follow the ODK OData field names, with the system fields mapped
// to their quoted originals ("__id", "__system").
type Submission struct {
	UUID                string     `json:"UUID"`
	SubmissionID        *string    `json:"__id"`
	SurveyDate          *time.Time `json:"survey_date"`
	SurveyStart         *time.Time `json:"survey_start"`
	SurveyEnd           *time.Time `json:"survey_end"`
	Logo                *string    `json:"logo"`
	StartGeopoint       AttrMap    `json:"start_geopoint"`
	PropertyLocation    AttrMap    `json:"property_location"`
	PropertyDescription AttrMap    `json:"property_description"`
	GeneratedNote       *string    `json:"generated_note_name_35"`
	SumOwner            *string    `json:"sum_owner"`
	SumLandlord         *string    `json:"sum_landlord"`
	SumOccupant         *string    `json:"sum_occupant"`
	CheckCounts1        *string    `json:"check_counts_1"`
	CheckCounts2        *string    `json:"check_counts_2"`
	EndGroup            AttrMap    `json:"End"`
	Meta                AttrMap    `json:"meta"`
	System              AttrMap    `json:"__system"`
	PersonDetailsLink   *string    `json:"person_details@odata.navigationLink"`

	// Re-hosted image URLs, populated by attachment processing. Nil until
	// the image has been uploaded and signed.
	BuildingImageURL   *string `json:"building_image_url"`
	AddressPlusCodeURL *string `json:"address_plus_code_url"`

	// SubmittedDate is the ODK __system/submissionDate, used as the
	// incremental sync watermark.
	SubmittedDate *time.Time `json:"SubmittedDate"`
}

// SubmitterName returns the ODK submitter name from the system metadata.
func (s *Submission) SubmitterName() string {
	return s.System.GetString("submitterName")
}

// ReviewState returns the ODK review state ("approved", "rejected", ...).
func (s *Submission) ReviewState() string {
	return s.System.GetString("reviewState")
}

// PersonDetail is one child record from the person_details repeat group.
// SubmissionRef carries the ODK "__Submissions-id" parent reference.
type PersonDetail struct {
	UUID           string  `json:"UUID"`
	RecordID       *string `json:"__id"`
	SubmissionRef  *string `json:"__Submissions-id"`
	RepeatPosition *string `json:"repeat_position"`

	PersonType                      AttrMap `json:"person_type"`
	ShopAptUnitNumber               *string `json:"shop_apt_unit_number"`
	Type                            *string `json:"type"`
	BusinessName                    *string `json:"business_name"`
	TaxRegistered                   *string `json:"tax_registered"`
	TIN                             *string `json:"tin"`
	IndividualFirstName             *string `json:"individual_first_name"`
	IndividualMiddleName            *string `json:"individual_middle_name"`
	IndividualLastName              *string `json:"individual_last_name"`
	IndividualGender                *string `json:"individual_gender"`
	IndividualIDType                *string `json:"individual_id_type"`
	IndividualNIN                   *string `json:"individual_nin"`
	IndividualDriversLicence        *string `json:"individual_drivers_licence"`
	IndividualPassportNumber        *string `json:"individual_passport_number"`
	PassportCountry                 *string `json:"passport_country"`
	IndividualResidencePermitNumber *string `json:"individual_residence_permit_number"`
	ResidencePermitCountry          *string `json:"residence_permit_country"`
	IndividualDOB                   *string `json:"individual_dob"`
	Mobile1                         *string `json:"mobile_1"`
	Mobile2                         *string `json:"mobile_2"`
	Email                           *string `json:"email"`
	Occupancy                       AttrMap `json:"occupancy"`
}
