// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("select", "submissions"))

	RecordDBQuery("select", "submissions", 10*time.Millisecond, nil)
	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("select", "submissions")); got != before {
		t.Errorf("error counter moved on success: %v", got)
	}

	RecordDBQuery("select", "submissions", 10*time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("select", "submissions")); got != before+1 {
		t.Errorf("error counter = %v, want %v", got, before+1)
	}
}

func TestRecordSyncStage(t *testing.T) {
	recordsBefore := testutil.ToFloat64(SyncRecordsProcessed.WithLabelValues("main_submissions"))
	errorsBefore := testutil.ToFloat64(SyncErrors.WithLabelValues("main_submissions"))

	RecordSyncStage("main_submissions", time.Second, 42, nil)
	if got := testutil.ToFloat64(SyncRecordsProcessed.WithLabelValues("main_submissions")); got != recordsBefore+42 {
		t.Errorf("records counter = %v, want %v", got, recordsBefore+42)
	}

	RecordSyncStage("main_submissions", time.Second, 0, errors.New("fetch failed"))
	if got := testutil.ToFloat64(SyncErrors.WithLabelValues("main_submissions")); got != errorsBefore+1 {
		t.Errorf("errors counter = %v, want %v", got, errorsBefore+1)
	}
	// A failed stage must not count records.
	if got := testutil.ToFloat64(SyncRecordsProcessed.WithLabelValues("main_submissions")); got != recordsBefore+42 {
		t.Errorf("records counter moved on failure: %v", got)
	}
}

func TestRecordS3Operation(t *testing.T) {
	okBefore := testutil.ToFloat64(S3Operations.WithLabelValues("sign", "success"))
	failBefore := testutil.ToFloat64(S3Operations.WithLabelValues("sign", "failure"))

	RecordS3Operation("sign", nil)
	RecordS3Operation("sign", errors.New("denied"))

	if got := testutil.ToFloat64(S3Operations.WithLabelValues("sign", "success")); got != okBefore+1 {
		t.Errorf("success counter = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(S3Operations.WithLabelValues("sign", "failure")); got != failBefore+1 {
		t.Errorf("failure counter = %v, want %v", got, failBefore+1)
	}
}

func TestRecordAttachment(t *testing.T) {
	before := testutil.ToFloat64(AttachmentsProcessed.WithLabelValues("uploaded"))
	RecordAttachment("uploaded", 200*time.Millisecond)
	if got := testutil.ToFloat64(AttachmentsProcessed.WithLabelValues("uploaded")); got != before+1 {
		t.Errorf("uploaded counter = %v, want %v", got, before+1)
	}
}
