// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

// Package unified materializes the denormalized reporting table: it groups
// person_details children under their parent submissions, derives the rental
// income and tax liability totals, renders presentation markup for re-hosted
// image URLs, and rebuilds the unified table through an atomic staging swap.
package unified

import (
	"github.com/ripplenami/odksync/internal/identity"
	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/models"
)

// Aggregator groups child records per parent key, preserving input order.
type Aggregator struct {
	resolver  identity.Resolver
	separator string
}

// NewAggregator creates an Aggregator using the given linkage resolver.
func NewAggregator(resolver identity.Resolver, separator string) *Aggregator {
	if separator == "" {
		separator = "_"
	}
	return &Aggregator{resolver: resolver, separator: separator}
}

// Group resolves every child's parent key and buckets the whitelisted
// projections by parent, preserving feed order within each group. Children
// without any identity are dropped with a warning and counted, never
// aborting the batch. Orphan groups (parent key with no parent row) are
// kept; the builder simply never joins them.
func (a *Aggregator) Group(children []models.PersonDetail) (map[string][]models.PersonSummary, int) {
	groups := make(map[string][]models.PersonSummary)
	dropped := 0

	for i := range children {
		child := &children[i]

		parentKey, err := a.resolver.ResolveParentKey(identity.ChildRecord{
			Key:       child.UUID,
			ParentRef: deref(child.SubmissionRef),
			Position:  deref(child.RepeatPosition),
		})
		if err != nil {
			dropped++
			logging.Warn().
				Str("record_id", deref(child.RecordID)).
				Str("repeat_position", deref(child.RepeatPosition)).
				Msg("Dropping person detail without resolvable identity")
			continue
		}

		groups[parentKey] = append(groups[parentKey], a.summarize(child, parentKey))
	}

	return groups, dropped
}

// summarize projects a child onto the fixed unified-table whitelist. A child
// with no key of its own gets one reconstructed from the parent key and its
// repeat position.
func (a *Aggregator) summarize(child *models.PersonDetail, parentKey string) models.PersonSummary {
	key := child.UUID
	if key == "" {
		key = identity.ReconstructKey(parentKey, a.separator, deref(child.RepeatPosition))
	}

	occupancy := child.Occupancy
	if occupancy == nil {
		// Malformed or absent occupancy degrades to an empty object so the
		// derived-field math sees consistent input.
		logging.Warn().
			Str("person_uuid", key).
			Msg("Person detail has no usable occupancy group, substituting empty object")
		occupancy = models.AttrMap{}
	}

	return models.PersonSummary{
		UUID:                            key,
		PersonType:                      child.PersonType,
		ShopAptUnitNumber:               child.ShopAptUnitNumber,
		Type:                            child.Type,
		BusinessName:                    child.BusinessName,
		TaxRegistered:                   child.TaxRegistered,
		TIN:                             child.TIN,
		IndividualFirstName:             child.IndividualFirstName,
		IndividualMiddleName:            child.IndividualMiddleName,
		IndividualLastName:              child.IndividualLastName,
		IndividualGender:                child.IndividualGender,
		IndividualIDType:                child.IndividualIDType,
		IndividualNIN:                   child.IndividualNIN,
		IndividualDriversLicence:        child.IndividualDriversLicence,
		IndividualPassportNumber:        child.IndividualPassportNumber,
		PassportCountry:                 child.PassportCountry,
		IndividualResidencePermitNumber: child.IndividualResidencePermitNumber,
		ResidencePermitCountry:          child.ResidencePermitCountry,
		IndividualDOB:                   child.IndividualDOB,
		Mobile1:                         child.Mobile1,
		Mobile2:                         child.Mobile2,
		Email:                           child.Email,
		Occupancy:                       occupancy,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
