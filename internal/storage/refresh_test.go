// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	signed  []string
	signErr error
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	return nil
}

func (f *fakeObjectStore) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	f.signed = append(f.signed, key)
	return "https://photos.s3.amazonaws.com/" + key + "?X-Amz-Date=20260829T120000Z&X-Amz-Expires=86400", nil
}

func (f *fakeObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, keys []string) error {
	return nil
}

type fakeRowStore struct {
	rows    []ImageRow
	listErr error

	mu      sync.Mutex
	updated []ImageRow
}

func (f *fakeRowStore) ListImageRows(ctx context.Context) ([]ImageRow, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rows, nil
}

func (f *fakeRowStore) UpdateImageURLs(ctx context.Context, row ImageRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, row)
	return nil
}

func strptr(s string) *string { return &s }

func TestRefreshExpired(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	threshold := 2 * time.Hour

	valid := sigv4URL(now, 24*time.Hour)
	expired := sigv4URL(now.Add(-2*time.Hour), time.Hour)
	expiring := sigv4URL(now, time.Hour)
	foreign := "https://elsewhere.example.com/not-ours.jpg?Expires=1"

	rows := &fakeRowStore{rows: []ImageRow{
		{UUID: "row-1", BuildingImageURL: strptr(expired), AddressPlusCodeURL: strptr(expiring)},
		{UUID: "row-2", BuildingImageURL: strptr(valid), AddressPlusCodeURL: nil},
		{UUID: "row-3", BuildingImageURL: strptr(foreign), AddressPlusCodeURL: strptr(expired)},
	}}
	store := &fakeObjectStore{}

	r := NewRefresher(store, rows, "photos", threshold, 24*time.Hour)
	r.now = func() time.Time { return now }

	n, err := r.RefreshExpired(context.Background(), 4)
	if err != nil {
		t.Fatalf("RefreshExpired() error = %v", err)
	}
	// row-1 has two stale fields, row-3 one signable stale field.
	if n != 3 {
		t.Errorf("RefreshExpired() = %d fields, want 3", n)
	}

	if len(rows.updated) != 2 {
		t.Fatalf("updated %d rows, want 2", len(rows.updated))
	}

	byUUID := map[string]ImageRow{}
	for _, row := range rows.updated {
		byUUID[row.UUID] = row
	}

	row1, ok := byUUID["row-1"]
	if !ok {
		t.Fatal("row-1 was not written back")
	}
	if row1.BuildingImageURL == nil || *row1.BuildingImageURL == expired {
		t.Error("row-1 building image URL was not refreshed")
	}
	if row1.AddressPlusCodeURL == nil || *row1.AddressPlusCodeURL == expiring {
		t.Error("row-1 address plus code URL was not refreshed")
	}

	row3, ok := byUUID["row-3"]
	if !ok {
		t.Fatal("row-3 was not written back")
	}
	if row3.BuildingImageURL == nil || *row3.BuildingImageURL != foreign {
		t.Error("row-3 foreign URL should be left untouched")
	}
	if row3.AddressPlusCodeURL == nil || *row3.AddressPlusCodeURL == expired {
		t.Error("row-3 address plus code URL was not refreshed")
	}

	if _, ok := byUUID["row-2"]; ok {
		t.Error("row-2 has only a valid URL and should not be written back")
	}
}

func TestRefreshExpiredNothingStale(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	rows := &fakeRowStore{rows: []ImageRow{
		{UUID: "row-1", BuildingImageURL: strptr(sigv4URL(now, 24*time.Hour))},
	}}

	r := NewRefresher(&fakeObjectStore{}, rows, "photos", 2*time.Hour, 24*time.Hour)
	r.now = func() time.Time { return now }

	n, err := r.RefreshExpired(context.Background(), 2)
	if err != nil {
		t.Fatalf("RefreshExpired() error = %v", err)
	}
	if n != 0 {
		t.Errorf("RefreshExpired() = %d, want 0", n)
	}
	if len(rows.updated) != 0 {
		t.Errorf("updated %d rows, want 0", len(rows.updated))
	}
}

func TestRefreshExpiredListError(t *testing.T) {
	rows := &fakeRowStore{listErr: errors.New("connection refused")}
	r := NewRefresher(&fakeObjectStore{}, rows, "photos", 2*time.Hour, 24*time.Hour)

	if _, err := r.RefreshExpired(context.Background(), 2); err == nil {
		t.Fatal("expected error when listing rows fails")
	}
}

func TestRefreshExpiredSignFailureSkipsRow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	rows := &fakeRowStore{rows: []ImageRow{
		{UUID: "row-1", BuildingImageURL: strptr(sigv4URL(now.Add(-2*time.Hour), time.Hour))},
	}}
	store := &fakeObjectStore{signErr: errors.New("throttled")}

	r := NewRefresher(store, rows, "photos", 2*time.Hour, 24*time.Hour)
	r.now = func() time.Time { return now }

	n, err := r.RefreshExpired(context.Background(), 2)
	if err != nil {
		t.Fatalf("RefreshExpired() error = %v", err)
	}
	if n != 0 {
		t.Errorf("RefreshExpired() = %d, want 0", n)
	}
	if len(rows.updated) != 0 {
		t.Errorf("updated %d rows, want 0", len(rows.updated))
	}
}

func TestRefreshExpiredManyRows(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	expired := sigv4URL(now.Add(-2*time.Hour), time.Hour)

	var all []ImageRow
	for i := 0; i < 50; i++ {
		all = append(all, ImageRow{
			UUID:             fmt.Sprintf("row-%02d", i),
			BuildingImageURL: strptr(expired),
		})
	}
	rows := &fakeRowStore{rows: all}
	store := &fakeObjectStore{}

	r := NewRefresher(store, rows, "photos", 2*time.Hour, 24*time.Hour)
	r.now = func() time.Time { return now }

	n, err := r.RefreshExpired(context.Background(), 8)
	if err != nil {
		t.Fatalf("RefreshExpired() error = %v", err)
	}
	if n != 50 {
		t.Errorf("RefreshExpired() = %d fields, want 50", n)
	}
	if len(rows.updated) != 50 {
		t.Errorf("updated %d rows, want 50", len(rows.updated))
	}
}
