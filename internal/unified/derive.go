// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package unified

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ripplenami/odksync/internal/models"
)

// Fixed GMD exchange rates used for rent normalization. These are the
// statutory assessment rates, not market rates.
const (
	RateDalasi = 1.00
	RateUSD    = 71.43
	RateEuro   = 76.92
	RatePounds = 90.91
)

// Tax rates per income classification.
const (
	TaxRateCommercial  = 0.15
	TaxRateResidential = 0.08
	TaxRateBusiness    = 0.27
)

// MaxAnnualRent caps plausible rent amounts; anything above (or non-positive)
// is treated as data entry noise and contributes 0.
const MaxAnnualRent = 10_000_000

// Income classifications.
const (
	IncomeCommercial  = "commercial"
	IncomeResidential = "residential_rental"
	IncomeBusiness    = "business"
)

var rentPattern = regexp.MustCompile(`^\d+\.?\d*$`)

// ParseAnnualRent parses an occupancy rent amount. Values that are not plain
// non-negative decimals, are zero, or exceed MaxAnnualRent yield 0.
func ParseAnnualRent(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if !rentPattern.MatchString(raw) {
		return 0
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 || amount > MaxAnnualRent {
		return 0
	}
	return amount
}

// NormalizeCurrency maps the free-text rent_currency_unit onto one of the
// four supported currencies. Unknown or empty units are treated as dalasi.
func NormalizeCurrency(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "dalasi", "gmd":
		return "dalasi"
	case "usd", "dollar", "$":
		return "usd"
	case "euro", "eur", "€":
		return "euro"
	case "pound", "pounds", "gbp", "£":
		return "pounds"
	default:
		return "dalasi"
	}
}

// ToGMD converts an amount in the given normalized currency to dalasi.
func ToGMD(amount float64, currency string) float64 {
	switch currency {
	case "usd":
		return amount * RateUSD
	case "euro":
		return amount * RateEuro
	case "pounds":
		return amount * RatePounds
	default:
		return amount * RateDalasi
	}
}

// ClassifyIncome maps the occupancy property_use onto an income type:
// place-of-business variants are commercial, residence variants are
// residential rental, and everything else is general business income.
func ClassifyIncome(propertyUse string) string {
	switch strings.ToLower(strings.TrimSpace(propertyUse)) {
	case "place-of-business", "commercial", "business", "shop", "office":
		return IncomeCommercial
	case "residence", "residential", "home", "apartment":
		return IncomeResidential
	default:
		return IncomeBusiness
	}
}

// TaxRateFor returns the tax rate for an income classification.
func TaxRateFor(incomeType string) float64 {
	switch incomeType {
	case IncomeCommercial:
		return TaxRateCommercial
	case IncomeResidential:
		return TaxRateResidential
	default:
		return TaxRateBusiness
	}
}

// DeriveTotals computes the per-property income and tax liability sums over
// a parent's person details. Each person contributes their occupancy's
// annual rent, normalized to GMD, to exactly one income bucket. Properties
// with no persons get all-zero totals.
func DeriveTotals(persons []models.PersonSummary) models.PropertyTotals {
	var totals models.PropertyTotals

	for i := range persons {
		occ := persons[i].Occupancy
		rent := ParseAnnualRent(occ.GetString("rent_annual_amount"))
		if rent == 0 {
			continue
		}

		gmd := ToGMD(rent, NormalizeCurrency(occ.GetString("rent_currency_unit")))
		totals.TotalBuildingRent += gmd

		switch ClassifyIncome(occ.GetString("property_use")) {
		case IncomeCommercial:
			totals.CommercialIncome += gmd
			totals.CommercialTaxLiability += gmd * TaxRateCommercial
		case IncomeResidential:
			totals.ResidentialIncome += gmd
			totals.ResidentialTaxLiability += gmd * TaxRateResidential
		default:
			totals.BusinessIncome += gmd
			totals.BusinessTaxLiability += gmd * TaxRateBusiness
		}
	}

	return totals
}
