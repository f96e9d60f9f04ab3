// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
	"github.com/ripplenami/odksync/internal/odk"
	"github.com/ripplenami/odksync/internal/storage"
)

// attachment job priorities. Never-seen submissions go first so a long
// backlog of re-checks cannot starve fresh data.
const (
	priorityNew      = 0
	priorityExisting = 1
)

type attachmentJob struct {
	sub      *models.Submission
	priority int
}

type attachmentStats struct {
	mu           sync.Mutex
	uploaded     int
	placeholders int
	skipped      int
	failed       int
}

func (s *attachmentStats) add(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch result {
	case "uploaded":
		s.uploaded++
	case "placeholder":
		s.placeholders++
	case "skipped":
		s.skipped++
	case "failed":
		s.failed++
	}
}

// processAttachments re-hosts each submission's images: download from the
// source API, upload to object storage, and set the signed URL on the
// record before it is upserted. Submissions that already carry a hosted
// building image are skipped. Tracked as its own sync stream.
func (m *Manager) processAttachments(ctx context.Context, subs []models.Submission) *attachmentStats {
	stats := &attachmentStats{}
	stageStart := m.now()

	historyID, err := m.tracker.StartSync(ctx, models.StreamImageProcessing)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot open image processing tracking")
		return stats
	}

	existing, err := m.store.ExistingSubmissionIDs(ctx)
	if err != nil {
		m.failStage(ctx, historyID, models.StreamImageProcessing, stageStart, err)
		return stats
	}

	jobs := m.buildAttachmentJobs(subs, existing, stats)
	m.runAttachmentPool(ctx, jobs, stats)

	processed := stats.uploaded + stats.placeholders
	metrics.RecordSyncStage(models.StreamImageProcessing, m.now().Sub(stageStart), processed, nil)
	m.completeStage(ctx, historyID, models.StreamImageProcessing, processed, nil, models.AttrMap{
		"uploaded":     stats.uploaded,
		"placeholders": stats.placeholders,
		"skipped":      stats.skipped,
		"failed":       stats.failed,
	})
	return stats
}

// buildAttachmentJobs picks the submissions that still need image work and
// orders them new-first when prioritization is on.
func (m *Manager) buildAttachmentJobs(subs []models.Submission, existing map[string]bool, stats *attachmentStats) []attachmentJob {
	jobs := make([]attachmentJob, 0, len(subs))
	for i := range subs {
		hasImage, known := existing[subs[i].UUID]
		if known && hasImage {
			stats.add("skipped")
			metrics.RecordAttachment("skipped", 0)
			continue
		}
		priority := priorityNew
		if known {
			priority = priorityExisting
		}
		jobs = append(jobs, attachmentJob{sub: &subs[i], priority: priority})
	}

	if m.cfg.PrioritizeNew {
		sort.SliceStable(jobs, func(a, b int) bool {
			return jobs[a].priority < jobs[b].priority
		})
	}
	return jobs
}

// runAttachmentPool fans the jobs out over a bounded worker pool. Each job
// owns its own submission record, so workers never contend on writes.
func (m *Manager) runAttachmentPool(ctx context.Context, jobs []attachmentJob, stats *attachmentStats) {
	if len(jobs) == 0 {
		return
	}

	workers := m.cfg.MaxWorkers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan attachmentJob)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for job := range jobCh {
				m.processSubmissionImages(ctx, job.sub, stats)
			}
		}()
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return
		case jobCh <- job:
		}
	}
	close(jobCh)
	wg.Wait()
}

// processSubmissionImages handles both image roles for one submission. A
// missing or undownloadable building image gets a signed placeholder, so
// the unified table always renders something. The address plus-code image
// is optional and left empty when absent.
func (m *Manager) processSubmissionImages(ctx context.Context, sub *models.Submission, stats *attachmentStats) {
	start := m.now()

	if url, result := m.rehostImage(ctx, sub.UUID, odk.ExtractBuildingImage(sub), true); url != "" {
		sub.BuildingImageURL = &url
		stats.add(result)
		metrics.RecordAttachment(result, m.now().Sub(start))
	} else {
		stats.add("failed")
		metrics.RecordAttachment("failed", m.now().Sub(start))
	}

	filename := odk.ExtractAddressPlusCodeImage(sub)
	if filename == "" {
		return
	}
	if url, result := m.rehostImage(ctx, sub.UUID, filename, false); url != "" {
		sub.AddressPlusCodeURL = &url
		stats.add(result)
		metrics.RecordAttachment(result, m.now().Sub(start))
	} else {
		stats.add("failed")
		metrics.RecordAttachment("failed", m.now().Sub(start))
	}
}

// rehostImage downloads one attachment, uploads it, and returns a signed
// URL. When the image is missing or cannot be fetched and placeholder is
// allowed, a generated placeholder is hosted instead. Returns "" on
// unrecoverable failure.
func (m *Manager) rehostImage(ctx context.Context, submissionID, filename string, placeholder bool) (string, string) {
	if filename != "" {
		data, contentType, err := m.client.DownloadAttachment(ctx, submissionID, filename)
		if err == nil {
			key := storage.AttachmentKey(m.storageCfg.BaseFolder, submissionID, filename, m.now())
			if url, err := m.hostObject(ctx, key, data, contentType); err == nil {
				return url, "uploaded"
			}
			return "", ""
		}
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("submission", submissionID).
			Str("filename", filename).
			Msg("Attachment download failed")
	}

	if !placeholder {
		return "", ""
	}

	png, err := storage.PlaceholderPNG()
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Cannot generate placeholder image")
		return "", ""
	}
	key := storage.PlaceholderKey(m.storageCfg.BaseFolder, submissionID)
	url, err := m.hostObject(ctx, key, png, "image/png")
	if err != nil {
		return "", ""
	}
	return url, "placeholder"
}

// hostObject uploads bytes and signs a fresh URL for them.
func (m *Manager) hostObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := m.objects.Put(ctx, key, data, contentType); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("key", key).Msg("Object upload failed")
		metrics.RecordS3Operation("put", err)
		return "", err
	}
	metrics.RecordS3Operation("put", nil)

	url, err := m.objects.Sign(ctx, key, m.storageCfg.URLTTL)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("key", key).Msg("URL signing failed")
		metrics.RecordS3Operation("sign", err)
		return "", err
	}
	metrics.RecordS3Operation("sign", nil)
	return url, nil
}
