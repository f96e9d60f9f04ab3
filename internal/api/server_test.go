// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/models"
)

type fakeStats struct {
	stats *models.SyncStatistics
	err   error
}

func (f *fakeStats) Statistics(ctx context.Context) (*models.SyncStatistics, error) {
	return f.stats, f.err
}

type fakeTrigger struct {
	accept bool
	calls  int
}

func (f *fakeTrigger) TriggerSync() bool {
	f.calls++
	return f.accept
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func testServer(stats *fakeStats, trigger *fakeTrigger, pinger *fakePinger) *Server {
	return NewServer(config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		Timeout:         10 * time.Second,
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}, stats, trigger, pinger)
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{"healthy", nil, http.StatusOK},
		{"database down", errors.New("dial refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(&fakeStats{}, &fakeTrigger{}, &fakePinger{err: tt.pingErr})
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSyncStatus(t *testing.T) {
	now := time.Now().UTC()
	stats := &fakeStats{stats: &models.SyncStatistics{
		Streams: []models.SyncStatus{
			{Stream: models.StreamMainSubmissions, LastStatus: models.SyncStatusSuccess},
		},
		Healthy:     true,
		GeneratedAt: now,
	}}
	s := testServer(stats, &fakeTrigger{}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got models.SyncStatistics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if !got.Healthy || len(got.Streams) != 1 {
		t.Errorf("unexpected body: %+v", got)
	}
}

func TestSyncStatusError(t *testing.T) {
	s := testServer(&fakeStats{err: errors.New("query failed")}, &fakeTrigger{}, &fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSyncTrigger(t *testing.T) {
	tests := []struct {
		name       string
		accept     bool
		wantStatus int
	}{
		{"accepted", true, http.StatusAccepted},
		{"already queued", false, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &fakeTrigger{accept: tt.accept}
			s := testServer(&fakeStats{}, trigger, &fakePinger{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if trigger.calls != 1 {
				t.Errorf("trigger called %d times", trigger.calls)
			}
		})
	}
}

func TestTriggerRequiresPost(t *testing.T) {
	s := testServer(&fakeStats{}, &fakeTrigger{accept: true}, &fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/trigger", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(&fakeStats{}, &fakeTrigger{}, &fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
