// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package models

import "time"

// PersonSummary is the whitelisted projection of a PersonDetail that is
// embedded into the unified table's person_details JSONB array. Only these
// fields ever cross into the unified table; anything else a child record
// carries is dropped here.
type PersonSummary struct {
	UUID                            string  `json:"UUID"`
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

// PropertyTotals are the per-property derived amounts, all in GMD.
// Zero-valued for properties with no person details.
type PropertyTotals struct {
	CommercialIncome        float64 `json:"commercial_income"`
	ResidentialIncome       float64 `json:"residential_income"`
	BusinessIncome          float64 `json:"business_income"`
	CommercialTaxLiability  float64 `json:"commercial_tax_liability"`
	ResidentialTaxLiability float64 `json:"residential_tax_liability"`
	BusinessTaxLiability    float64 `json:"business_tax_liability"`
	TotalBuildingRent       float64 `json:"total_building_rent"`
}

// UnifiedRow is one row of the denormalized unified table: every parent
// column, the aggregated person_details array ([] when no children), the
// presentation HTML for each image URL, and the derived totals.
type UnifiedRow struct {
	Submission

	// PersonDetails preserves child input order. Never nil; an empty slice
	// serializes to '[]'.
	PersonDetails []PersonSummary `json:"person_details"`

	// Presentation markup, nil whenever the corresponding URL is nil.
	BuildingImageHTML   *string `json:"building_image_url_html"`
	AddressPlusCodeHTML *string `json:"address_plus_code_url_html"`

	Totals PropertyTotals `json:"totals"`

	ProcessedAt time.Time `json:"processed_at"`
	TaxYear     int       `json:"tax_year"`
}
