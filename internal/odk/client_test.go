// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package odk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ripplenami/odksync/internal/config"
)

func testConfig(baseURL string) config.ODKConfig {
	return config.ODKConfig{
		BaseURL:   baseURL,
		ProjectID: "1",
		FormID:    "GRARentalDataCollection",
		Email:     "sync@example.org",
		Password:  "secret",
		Timeout:   5 * time.Second,
		RateLimit: 100,
		Burst:     10,
	}
}

func TestFetchSubmissions(t *testing.T) {
	var gotFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "sync@example.org" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotFilter = r.URL.Query().Get("$filter")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"@odata.count": 2,
			"value": [
				{
					"__id": "uuid:aaa",
					"survey_date": "2026-08-20T00:00:00Z",
					"property_description": {"building_image": "front.jpg"},
					"__system": {"submissionDate": "2026-08-21T09:30:00.123Z", "submitterName": "enumerator1"}
				},
				{
					"__id": "uuid:bbb",
					"__system": {"submissionDate": "2026-08-22T10:00:00.000Z"}
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	since := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)

	subs, err := client.FetchSubmissions(context.Background(), &since)
	if err != nil {
		t.Fatalf("FetchSubmissions() error = %v", err)
	}

	if !strings.HasPrefix(gotFilter, "__system/submissionDate gt 2026-08-19T00:00:00") {
		t.Errorf("unexpected $filter: %q", gotFilter)
	}

	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
	if subs[0].UUID != "uuid:aaa" {
		t.Errorf("UUID = %q, want uuid:aaa", subs[0].UUID)
	}
	if subs[0].SubmittedDate == nil {
		t.Fatal("SubmittedDate not derived from system metadata")
	}
	if got := subs[0].SubmittedDate.UTC().Format(time.RFC3339); got != "2026-08-21T09:30:00Z" {
		t.Errorf("SubmittedDate = %s", got)
	}
	if subs[0].SubmitterName() != "enumerator1" {
		t.Errorf("SubmitterName() = %q", subs[0].SubmitterName())
	}
	if ExtractBuildingImage(&subs[0]) != "front.jpg" {
		t.Errorf("building image = %q, want front.jpg", ExtractBuildingImage(&subs[0]))
	}
	if ExtractBuildingImage(&subs[1]) != "" {
		t.Error("expected no building image for second submission")
	}
}

func TestFetchSubmissionsNoWatermark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("$filter") {
			t.Errorf("unexpected $filter on full fetch: %q", r.URL.Query().Get("$filter"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": []}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	subs, err := client.FetchSubmissions(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchSubmissions() error = %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("got %d submissions, want 0", len(subs))
	}
}

func TestFetchPersonDetailsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	details, err := client.FetchPersonDetails(context.Background())
	if err != nil {
		t.Fatalf("FetchPersonDetails() error = %v, want nil for missing feed", err)
	}
	if len(details) != 0 {
		t.Errorf("got %d details, want 0", len(details))
	}
}

func TestFetchPersonDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"value": [
				{
					"__id": "uuid:aaa_1",
					"__Submissions-id": "uuid:aaa",
					"individual_first_name": "Fatou",
					"occupancy": {"annual_rent": "12000", "currency": "dalasi"}
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	details, err := client.FetchPersonDetails(context.Background())
	if err != nil {
		t.Fatalf("FetchPersonDetails() error = %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("got %d details, want 1", len(details))
	}
	if details[0].UUID != "uuid:aaa_1" {
		t.Errorf("UUID = %q, want uuid:aaa_1", details[0].UUID)
	}
	if details[0].SubmissionRef == nil || *details[0].SubmissionRef != "uuid:aaa" {
		t.Error("parent reference not decoded")
	}
	if details[0].Occupancy.GetString("annual_rent") != "12000" {
		t.Errorf("occupancy annual_rent = %q", details[0].Occupancy.GetString("annual_rent"))
	}
}

func TestDoWithRetryRateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": []}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	client.retryBaseDelay = time.Millisecond

	if _, err := client.FetchSubmissions(context.Background(), nil); err != nil {
		t.Fatalf("FetchSubmissions() error = %v, want success after retries", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestDoWithRetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	client.maxRetries = 2
	client.retryBaseDelay = time.Millisecond

	if _, err := client.FetchSubmissions(context.Background(), nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestDownloadAttachment(t *testing.T) {
	var sessions atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token": "tok-123"}`))
	})
	mux.HandleFunc("/v1/projects/1/forms/GRARentalDataCollection/submissions/uuid:aaa/attachments/front.jpg",
		func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(make([]byte, 2048))
		})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	data, contentType, err := client.DownloadAttachment(context.Background(), "uuid:aaa", "front.jpg")
	if err != nil {
		t.Fatalf("DownloadAttachment() error = %v", err)
	}
	if len(data) != 2048 {
		t.Errorf("got %d bytes, want 2048", len(data))
	}
	if contentType != "image/jpeg" {
		t.Errorf("content type = %q", contentType)
	}

	// Second download reuses the cached session.
	if _, _, err := client.DownloadAttachment(context.Background(), "uuid:aaa", "front.jpg"); err != nil {
		t.Fatalf("second DownloadAttachment() error = %v", err)
	}
	if got := sessions.Load(); got != 1 {
		t.Errorf("created %d sessions, want 1", got)
	}
}

func TestDownloadAttachmentReauthenticates(t *testing.T) {
	var sessions atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		n := sessions.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"token": "stale"}`))
		} else {
			_, _ = w.Write([]byte(`{"token": "fresh"}`))
		}
	})
	mux.HandleFunc("/v1/projects/1/forms/GRARentalDataCollection/submissions/uuid:aaa/attachments/front.jpg",
		func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write(make([]byte, 512))
		})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	data, _, err := client.DownloadAttachment(context.Background(), "uuid:aaa", "front.jpg")
	if err != nil {
		t.Fatalf("DownloadAttachment() error = %v", err)
	}
	if len(data) != 512 {
		t.Errorf("got %d bytes, want 512", len(data))
	}
	if got := sessions.Load(); got != 2 {
		t.Errorf("created %d sessions, want 2 (stale token replaced)", got)
	}
}
