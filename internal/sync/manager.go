// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/identity"
	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
	"github.com/ripplenami/odksync/internal/odk"
	"github.com/ripplenami/odksync/internal/storage"
)

// Store is the relational surface the sync cycle writes through.
// *database.DB implements it.
type Store interface {
	UpsertSubmissions(ctx context.Context, subs []models.Submission) (int, error)
	UpsertPersonDetails(ctx context.Context, details []models.PersonDetail) (int, error)
	ExistingSubmissionIDs(ctx context.Context) (map[string]bool, error)
	SyncPresentationFields(ctx context.Context) (int64, error)
}

// Tracker records per-stream sync bookkeeping. *database.DB implements it.
type Tracker interface {
	StartSync(ctx context.Context, stream string) (int64, error)
	CompleteSync(ctx context.Context, id int64, stream string, records int, watermark *time.Time, metadata models.AttrMap) error
	FailSync(ctx context.Context, id int64, stream, errMsg string) error
	LastSyncTime(ctx context.Context, stream string) (*time.Time, error)
	CleanupHistory(ctx context.Context, retentionDays int) (int64, error)
}

// Rebuilder recomputes the unified table. *unified.Builder implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context, force bool) error
}

// URLRefresher re-signs expiring object URLs. *storage.Refresher implements it.
type URLRefresher interface {
	RefreshExpired(ctx context.Context, workers int) (int, error)
}

// Manager drives the periodic sync cycle: parent submissions with their
// attachments, URL refresh, child records, unified rebuild, then
// bookkeeping. Stages are tracked independently so one failing stream
// does not wipe out another's progress.
type Manager struct {
	cfg        config.SyncConfig
	storageCfg config.StorageConfig

	client    odk.API
	store     Store
	tracker   Tracker
	objects   storage.ObjectStore
	resolver  identity.Resolver
	builder   Rebuilder
	refresher URLRefresher

	// syncMu serializes cycles; a trigger during a running cycle waits
	// rather than overlapping.
	syncMu sync.Mutex

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	now func() time.Time
}

// New assembles a Manager from its collaborators.
func New(cfg config.SyncConfig, storageCfg config.StorageConfig, client odk.API,
	store Store, tracker Tracker, objects storage.ObjectStore,
	resolver identity.Resolver, builder Rebuilder, refresher URLRefresher) *Manager {
	return &Manager{
		cfg:        cfg,
		storageCfg: storageCfg,
		client:     client,
		store:      store,
		tracker:    tracker,
		objects:    objects,
		resolver:   resolver,
		builder:    builder,
		refresher:  refresher,
		trigger:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Serve runs the sync loop until ctx is cancelled or Stop is called. One
// cycle runs immediately on startup, then on every tick or trigger.
// Implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	defer close(m.done)

	logging.Info().
		Dur("interval", m.cfg.Interval).
		Int("workers", m.cfg.MaxWorkers).
		Msg("Sync loop starting")

	m.runCycle(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync loop stopping")
			return ctx.Err()
		case <-m.stop:
			logging.Info().Msg("Sync loop stopped")
			return nil
		case <-ticker.C:
			m.runCycle(ctx)
		case <-m.trigger:
			logging.Info().Msg("Manual sync triggered")
			m.runCycle(ctx)
		}
	}
}

// Stop ends the loop and waits for any in-flight cycle to finish.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// TriggerSync requests an immediate cycle. Returns false when one is
// already queued.
func (m *Manager) TriggerSync() bool {
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// runCycle executes one full sync pass. Every cycle gets its own
// correlation ID so the stages' log lines can be tied together.
func (m *Manager) runCycle(ctx context.Context) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	ctx = logging.ContextWithNewCorrelationID(ctx)
	start := m.now()
	logging.Ctx(ctx).Info().Msg("Sync cycle starting")

	watermark, err := m.tracker.LastSyncTime(ctx, models.StreamMainSubmissions)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot read sync watermark, aborting cycle")
		metrics.SyncCyclesTotal.WithLabelValues("error").Inc()
		return
	}

	parents, parentsOK := m.syncParents(ctx, watermark)
	m.refreshURLs(ctx)
	m.syncChildren(ctx, watermark, parents, parentsOK)
	m.rebuildUnified(ctx)

	if _, err := m.tracker.CleanupHistory(ctx, m.cfg.HistoryRetentionDays); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Sync history cleanup failed")
	}

	elapsed := m.now().Sub(start)
	metrics.SyncCycleDuration.Observe(elapsed.Seconds())
	if parentsOK {
		metrics.SyncCyclesTotal.WithLabelValues("success").Inc()
	} else {
		metrics.SyncCyclesTotal.WithLabelValues("error").Inc()
	}

	if elapsed > 2*m.cfg.Interval {
		logging.Ctx(ctx).Warn().
			Dur("elapsed", elapsed).
			Dur("interval", m.cfg.Interval).
			Msg("Sync cycle ran longer than twice the interval")
	}
	logging.Ctx(ctx).Info().Dur("elapsed", elapsed).Msg("Sync cycle finished")
}

// syncParents fetches parent submissions since the watermark, re-hosts
// their image attachments, and upserts them. Returns the processed batch
// and whether the stage succeeded.
func (m *Manager) syncParents(ctx context.Context, watermark *time.Time) ([]models.Submission, bool) {
	stageStart := m.now()
	historyID, err := m.tracker.StartSync(ctx, models.StreamMainSubmissions)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot open parent sync tracking")
		return nil, false
	}

	subs, err := m.client.FetchSubmissions(ctx, watermark)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamMainSubmissions, stageStart, err)
		return nil, false
	}

	if len(subs) == 0 {
		metrics.RecordSyncStage(models.StreamMainSubmissions, m.now().Sub(stageStart), 0, nil)
		m.completeStage(ctx, historyID, models.StreamMainSubmissions, 0, nil, models.AttrMap{
			"fetched": 0,
		})
		logging.Ctx(ctx).Info().Msg("No new submissions")
		return nil, true
	}

	attachmentStats := m.processAttachments(ctx, subs)

	written, err := m.store.UpsertSubmissions(ctx, subs)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamMainSubmissions, stageStart, err)
		return nil, false
	}

	metrics.RecordSyncStage(models.StreamMainSubmissions, m.now().Sub(stageStart), written, nil)
	m.completeStage(ctx, historyID, models.StreamMainSubmissions, written,
		odk.LatestSubmitted(subs), models.AttrMap{
			"fetched":      len(subs),
			"uploaded":     attachmentStats.uploaded,
			"placeholders": attachmentStats.placeholders,
			"skipped":      attachmentStats.skipped,
		})
	return subs, true
}

// syncChildren fetches the child repeat group and upserts it. When an
// incremental parent batch was just processed, only children belonging to
// those parents are written; a first run (no watermark) takes everything.
func (m *Manager) syncChildren(ctx context.Context, watermark *time.Time, parents []models.Submission, parentsOK bool) {
	stageStart := m.now()
	historyID, err := m.tracker.StartSync(ctx, models.StreamPersonDetails)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot open child sync tracking")
		return
	}

	details, err := m.client.FetchPersonDetails(ctx)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamPersonDetails, stageStart, err)
		return
	}

	if watermark != nil && parentsOK {
		details = m.filterToParents(ctx, details, parents)
	}

	written, err := m.store.UpsertPersonDetails(ctx, details)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamPersonDetails, stageStart, err)
		return
	}

	metrics.RecordSyncStage(models.StreamPersonDetails, m.now().Sub(stageStart), written, nil)
	m.completeStage(ctx, historyID, models.StreamPersonDetails, written, nil, models.AttrMap{
		"fetched": len(details),
	})
}

// filterToParents keeps only children resolvable to one of the given
// parents. Children whose identity cannot be resolved are dropped with a
// warning; the next full run picks them up.
func (m *Manager) filterToParents(ctx context.Context, details []models.PersonDetail, parents []models.Submission) []models.PersonDetail {
	if len(parents) == 0 {
		return nil
	}

	parentKeys := make(map[string]struct{}, len(parents))
	for i := range parents {
		parentKeys[parents[i].UUID] = struct{}{}
	}

	kept := details[:0]
	dropped := 0
	for i := range details {
		key, err := m.resolver.ResolveParentKey(childRecord(&details[i]))
		if err != nil {
			dropped++
			continue
		}
		if _, ok := parentKeys[key]; ok {
			kept = append(kept, details[i])
		}
	}

	if dropped > 0 {
		logging.Ctx(ctx).Warn().
			Int("dropped", dropped).
			Msg("Child records without resolvable parent identity")
	}
	return kept
}

// childRecord adapts a PersonDetail to the identity resolver's view.
func childRecord(d *models.PersonDetail) identity.ChildRecord {
	rec := identity.ChildRecord{Key: d.UUID}
	if d.SubmissionRef != nil {
		rec.ParentRef = *d.SubmissionRef
	}
	if d.RepeatPosition != nil {
		rec.Position = *d.RepeatPosition
	}
	return rec
}

// refreshURLs re-signs expiring object URLs and propagates the new markup
// into the unified table. Skipped entirely when refresh is disabled.
func (m *Manager) refreshURLs(ctx context.Context) {
	if !m.storageCfg.RefreshEnabled || m.refresher == nil {
		return
	}

	stageStart := m.now()
	historyID, err := m.tracker.StartSync(ctx, models.StreamURLRefresh)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot open URL refresh tracking")
		return
	}

	refreshed, err := m.refresher.RefreshExpired(ctx, m.cfg.MaxWorkers)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamURLRefresh, stageStart, err)
		return
	}

	synced, err := m.store.SyncPresentationFields(ctx)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamURLRefresh, stageStart, err)
		return
	}

	metrics.RecordSyncStage(models.StreamURLRefresh, m.now().Sub(stageStart), refreshed, nil)
	m.completeStage(ctx, historyID, models.StreamURLRefresh, refreshed, nil, models.AttrMap{
		"urls_refreshed": refreshed,
		"rows_synced":    synced,
	})
}

// rebuildUnified recomputes the denormalized table from the freshly synced
// base tables.
func (m *Manager) rebuildUnified(ctx context.Context) {
	stageStart := m.now()
	historyID, err := m.tracker.StartSync(ctx, models.StreamUnifiedRebuild)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot open unified rebuild tracking")
		return
	}

	if err := m.builder.Rebuild(ctx, true); err != nil {
		m.failStage(ctx, historyID, models.StreamUnifiedRebuild, stageStart, err)
		return
	}

	metrics.RecordSyncStage(models.StreamUnifiedRebuild, m.now().Sub(stageStart), 0, nil)
	m.completeStage(ctx, historyID, models.StreamUnifiedRebuild, 0, nil, nil)
}

func (m *Manager) completeStage(ctx context.Context, id int64, stream string, records int, watermark *time.Time, metadata models.AttrMap) {
	if err := m.tracker.CompleteSync(ctx, id, stream, records, watermark, metadata); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("stream", stream).Msg("Cannot record stage completion")
	}
}

func (m *Manager) failStage(ctx context.Context, id int64, stream string, stageStart time.Time, stageErr error) {
	logging.Ctx(ctx).Error().Err(stageErr).Str("stream", stream).Msg("Sync stage failed")
	metrics.RecordSyncStage(stream, m.now().Sub(stageStart), 0, stageErr)
	if err := m.tracker.FailSync(ctx, id, stream, stageErr.Error()); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("stream", stream).Msg("Cannot record stage failure")
	}
}

// String identifies the service in supervisor logs.
func (m *Manager) String() string {
	return fmt.Sprintf("sync-manager(interval=%s)", m.cfg.Interval)
}
