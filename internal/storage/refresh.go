// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ripplenami/odksync/internal/logging"
)

// ImageRow is the projection of a parent row the refresher works on: the
// key plus both image URL fields.
type ImageRow struct {
	UUID               string
	BuildingImageURL   *string
	AddressPlusCodeURL *string
}

// RowStore is the database surface the refresher needs.
type RowStore interface {
	// ListImageRows returns every parent row carrying at least one image URL.
	ListImageRows(ctx context.Context) ([]ImageRow, error)

	// UpdateImageURLs persists both URL columns for a row.
	UpdateImageURLs(ctx context.Context, row ImageRow) error
}

// Refresher re-signs image URLs that are expired or inside the refresh
// threshold, without re-uploading any object bytes.
type Refresher struct {
	store ObjectStore
	rows  RowStore

	bucket    string
	threshold time.Duration
	ttl       time.Duration

	// now is stubbed in tests.
	now func() time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(store ObjectStore, rows RowStore, bucket string, threshold, ttl time.Duration) *Refresher {
	return &Refresher{
		store:     store,
		rows:      rows,
		bucket:    bucket,
		threshold: threshold,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Refresh re-signs the object behind path for the configured TTL.
func (r *Refresher) Refresh(ctx context.Context, key string) (string, error) {
	return r.store.Sign(ctx, key, r.ttl)
}

// refreshResult carries a worker's outcome for one row.
type refreshResult struct {
	row     ImageRow
	updated int
}

// RefreshExpired scans every row carrying an image URL, classifies both URL
// fields, and re-signs the stale ones on a pool of workers. Returns the
// number of URL fields updated (0, 1, or 2 per row). Rows whose keys cannot
// be recovered are logged and left alone; per-row failures never abort the
// batch.
func (r *Refresher) RefreshExpired(ctx context.Context, workers int) (int, error) {
	if workers < 1 {
		workers = 1
	}

	rows, err := r.rows.ListImageRows(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	jobs := make(chan ImageRow)
	results := make(map[string]refreshResult)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				res := r.refreshRow(ctx, row, now)
				if res.updated > 0 {
					mu.Lock()
					results[row.UUID] = res
					mu.Unlock()
				}
			}
		}()
	}

	for i := range rows {
		select {
		case jobs <- rows[i]:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return 0, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	// Apply updates in input order so runs are reproducible.
	total := 0
	for i := range rows {
		res, ok := results[rows[i].UUID]
		if !ok {
			continue
		}
		if err := r.rows.UpdateImageURLs(ctx, res.row); err != nil {
			logging.Error().Err(err).Str("uuid", res.row.UUID).Msg("Failed to persist refreshed URLs")
			continue
		}
		total += res.updated
	}

	if total > 0 {
		logging.Info().Int("fields", total).Msg("Refreshed expiring image URLs")
	}

	return total, nil
}

// refreshRow re-signs whichever of the row's URL fields need it.
func (r *Refresher) refreshRow(ctx context.Context, row ImageRow, now time.Time) refreshResult {
	res := refreshResult{row: row}

	if fresh, ok := r.refreshField(ctx, row.UUID, RoleBuildingImage, row.BuildingImageURL, now); ok {
		res.row.BuildingImageURL = &fresh
		res.updated++
	}
	if fresh, ok := r.refreshField(ctx, row.UUID, RoleAddressPlusCode, row.AddressPlusCodeURL, now); ok {
		res.row.AddressPlusCodeURL = &fresh
		res.updated++
	}

	return res
}

// refreshField classifies one URL field and re-signs it when needed.
// Returns the fresh URL and whether the field changed.
func (r *Refresher) refreshField(ctx context.Context, uuid, role string, current *string, now time.Time) (string, bool) {
	if current == nil {
		return "", false
	}

	state := Classify(*current, r.threshold, now)
	if !state.NeedsRefresh() {
		return "", false
	}

	key, err := KeyFromURL(*current, r.bucket)
	if err != nil {
		// Foreign or mangled URL: flag it, keep the stored value.
		logging.Warn().
			Str("uuid", uuid).
			Str("role", role).
			Str("state", state.String()).
			Err(err).
			Msg("Cannot recover object key from stored URL, leaving field expired")
		return "", false
	}

	fresh, err := r.store.Sign(ctx, key, r.ttl)
	if err != nil {
		logging.Error().
			Str("uuid", uuid).
			Str("role", role).
			Err(err).
			Msg("Failed to re-sign image URL")
		return "", false
	}

	logging.Debug().
		Str("uuid", uuid).
		Str("role", role).
		Str("state", state.String()).
		Msg("Re-signed image URL")

	return fresh, true
}
