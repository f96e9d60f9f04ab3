// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package unified

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
)

// MissingSourceError reports that the parent table required for a rebuild
// does not exist. Rebuilds fail fast on it; nothing is mutated.
type MissingSourceError struct {
	Table string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("source table %s does not exist", e.Table)
}

// Store is the persistence surface the builder needs. The production
// implementation is database.DB; tests supply fakes.
type Store interface {
	// TableExists reports whether the named table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// FetchSubmissions loads every parent row.
	FetchSubmissions(ctx context.Context) ([]models.Submission, error)

	// FetchPersonDetails loads every child row.
	FetchPersonDetails(ctx context.Context) ([]models.PersonDetail, error)

	// ReplaceUnified writes rows into a staging table and atomically swaps
	// it in for the current unified table. On error the previous unified
	// table must remain queryable.
	ReplaceUnified(ctx context.Context, rows []models.UnifiedRow) error
}

// Builder materializes the unified table.
type Builder struct {
	store      Store
	aggregator *Aggregator

	mainTable    string
	personTable  string
	unifiedTable string

	// now is stubbed in tests for a deterministic processing timestamp.
	now func() time.Time
}

// NewBuilder creates a Builder over the given store and table names.
func NewBuilder(store Store, aggregator *Aggregator, mainTable, personTable, unifiedTable string) *Builder {
	return &Builder{
		store:        store,
		aggregator:   aggregator,
		mainTable:    mainTable,
		personTable:  personTable,
		unifiedTable: unifiedTable,
		now:          time.Now,
	}
}

// Rebuild recomputes the unified table wholesale. When force is false and a
// unified table already exists, the rebuild is skipped. The parent table
// must exist; a missing child table degrades to empty person_details for
// every parent. The write happens via staging-table swap, so a failure at
// any point leaves the previous unified table intact.
func (b *Builder) Rebuild(ctx context.Context, force bool) error {
	mainExists, err := b.store.TableExists(ctx, b.mainTable)
	if err != nil {
		return fmt.Errorf("checking main table: %w", err)
	}
	if !mainExists {
		return &MissingSourceError{Table: b.mainTable}
	}

	if !force {
		unifiedExists, err := b.store.TableExists(ctx, b.unifiedTable)
		if err != nil {
			return fmt.Errorf("checking unified table: %w", err)
		}
		if unifiedExists {
			logging.Info().Str("table", b.unifiedTable).Msg("Unified table exists, skipping rebuild")
			return nil
		}
	}

	start := b.now()

	submissions, err := b.store.FetchSubmissions(ctx)
	if err != nil {
		return fmt.Errorf("loading %s: %w", b.mainTable, err)
	}

	var children []models.PersonDetail
	personExists, err := b.store.TableExists(ctx, b.personTable)
	if err != nil {
		return fmt.Errorf("checking person table: %w", err)
	}
	if personExists {
		children, err = b.store.FetchPersonDetails(ctx)
		if err != nil {
			return fmt.Errorf("loading %s: %w", b.personTable, err)
		}
	} else {
		logging.Warn().
			Str("table", b.personTable).
			Msg("Person details table missing, building unified table with empty person arrays")
	}

	rows := b.BuildRows(submissions, children)

	if err := b.store.ReplaceUnified(ctx, rows); err != nil {
		return fmt.Errorf("replacing unified table: %w", err)
	}

	elapsed := b.now().Sub(start)
	metrics.RecordUnifiedRebuild(elapsed, len(rows))
	logging.Info().
		Str("table", b.unifiedTable).
		Int("rows", len(rows)).
		Dur("duration", elapsed).
		Msg("Unified table rebuilt")

	return nil
}

// BuildRows performs the pure transformation: left-join children onto
// parents, render markup, and derive totals. Parents keep their input order;
// so do children within each parent. Output is deterministic except for the
// processing timestamp.
func (b *Builder) BuildRows(submissions []models.Submission, children []models.PersonDetail) []models.UnifiedRow {
	groups, dropped := b.aggregator.Group(children)
	if dropped > 0 {
		logging.Warn().Int("dropped", dropped).Msg("Person details dropped during aggregation")
	}

	processedAt := b.now().UTC()
	rows := make([]models.UnifiedRow, 0, len(submissions))

	for i := range submissions {
		sub := submissions[i]

		persons := groups[sub.UUID]
		if persons == nil {
			// Consumers rely on '[]', never null.
			persons = []models.PersonSummary{}
		}

		rows = append(rows, models.UnifiedRow{
			Submission:          sub,
			PersonDetails:       persons,
			BuildingImageHTML:   ImageHTML(sub.BuildingImageURL),
			AddressPlusCodeHTML: ImageHTML(sub.AddressPlusCodeURL),
			Totals:              DeriveTotals(persons),
			ProcessedAt:         processedAt,
			TaxYear:             processedAt.Year(),
		})
	}

	return rows
}
