// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package unified

import (
	"testing"

	"github.com/ripplenami/odksync/internal/identity"
	"github.com/ripplenami/odksync/internal/models"
)

func strp(s string) *string { return &s }

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	resolver, err := identity.NewResolver(identity.StrategyPrefix, "_")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return NewAggregator(resolver, "_")
}

func TestGroupByParentPreservesOrder(t *testing.T) {
	agg := newTestAggregator(t)

	children := []models.PersonDetail{
		{UUID: "P1_1", IndividualFirstName: strp("Awa")},
		{UUID: "P2_1", IndividualFirstName: strp("Lamin")},
		{UUID: "P1_2", IndividualFirstName: strp("Musa")},
		{UUID: "P1_3", IndividualFirstName: strp("Fatou")},
	}

	groups, dropped := agg.Group(children)

	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}

	p1 := groups["P1"]
	if len(p1) != 3 {
		t.Fatalf("len(P1 group) = %d, want 3", len(p1))
	}
	wantOrder := []string{"Awa", "Musa", "Fatou"}
	for i, want := range wantOrder {
		if got := *p1[i].IndividualFirstName; got != want {
			t.Errorf("P1[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestGroupDropsUnresolvableChildren(t *testing.T) {
	agg := newTestAggregator(t)

	children := []models.PersonDetail{
		{UUID: "P1_1"},
		{}, // no key, no parent ref: dropped
		{UUID: "", SubmissionRef: strp("P9"), RepeatPosition: strp("2")},
	}

	groups, dropped := agg.Group(children)

	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(groups["P1"]) != 1 {
		t.Errorf("P1 group = %v", groups["P1"])
	}

	// The keyless child is kept under its parent ref, with a reconstructed key.
	p9 := groups["P9"]
	if len(p9) != 1 {
		t.Fatalf("P9 group = %v", p9)
	}
	if p9[0].UUID != "P9_2" {
		t.Errorf("reconstructed key = %q, want P9_2", p9[0].UUID)
	}
}

func TestGroupSubstitutesEmptyOccupancy(t *testing.T) {
	agg := newTestAggregator(t)

	groups, _ := agg.Group([]models.PersonDetail{{UUID: "P1_1"}})

	occ := groups["P1"][0].Occupancy
	if occ == nil {
		t.Fatal("occupancy should be substituted with an empty object, not nil")
	}
	if len(occ) != 0 {
		t.Errorf("occupancy should be empty, got %v", occ)
	}
}

func TestGroupWhitelistProjection(t *testing.T) {
	agg := newTestAggregator(t)

	children := []models.PersonDetail{{
		UUID:          "P1_1",
		RecordID:      strp("internal-id"),
		SubmissionRef: strp("P1"),
		BusinessName:  strp("Corner Shop"),
		TIN:           strp("T-100"),
		Occupancy:     models.AttrMap{"rent_annual_amount": "1000"},
	}}

	groups, _ := agg.Group(children)
	p := groups["P1"][0]

	if p.BusinessName == nil || *p.BusinessName != "Corner Shop" {
		t.Errorf("BusinessName = %v", p.BusinessName)
	}
	if p.TIN == nil || *p.TIN != "T-100" {
		t.Errorf("TIN = %v", p.TIN)
	}
	if p.Occupancy.GetString("rent_annual_amount") != "1000" {
		t.Errorf("Occupancy = %v", p.Occupancy)
	}
}

func TestGroupOrphanChildrenKept(t *testing.T) {
	agg := newTestAggregator(t)

	// No parent table knowledge here: a child whose parent key matches no
	// parent row is still grouped; the builder's left join ignores it.
	groups, dropped := agg.Group([]models.PersonDetail{{UUID: "GHOST_1"}})
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(groups["GHOST"]) != 1 {
		t.Errorf("orphan group missing: %v", groups)
	}
}
