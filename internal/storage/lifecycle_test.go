// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"fmt"
	"testing"
	"time"
)

// sigv4URL builds a presigned-style URL whose expiry lands at signedAt+ttl.
func sigv4URL(signedAt time.Time, ttl time.Duration) string {
	return fmt.Sprintf(
		"https://photos.s3.eu-west-1.amazonaws.com/odk_images/2026-08/sub-1-building.jpg?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Date=%s&X-Amz-Expires=%d&X-Amz-Signature=abc123",
		signedAt.UTC().Format(amzDateLayout),
		int64(ttl.Seconds()),
	)
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	threshold := 2 * time.Hour

	tests := []struct {
		name string
		url  string
		want URLState
	}{
		{
			name: "empty url",
			url:  "",
			want: StateNoURL,
		},
		{
			name: "whitespace only",
			url:  "   ",
			want: StateNoURL,
		},
		{
			name: "no expiry parameters",
			url:  "https://photos.s3.eu-west-1.amazonaws.com/odk_images/a.jpg",
			want: StateExpired,
		},
		{
			name: "malformed amz date",
			url:  "https://photos.s3.eu-west-1.amazonaws.com/a.jpg?X-Amz-Date=notadate&X-Amz-Expires=3600",
			want: StateExpired,
		},
		{
			name: "malformed expires seconds",
			url:  "https://photos.s3.eu-west-1.amazonaws.com/a.jpg?X-Amz-Date=20260829T100000Z&X-Amz-Expires=soon",
			want: StateExpired,
		},
		{
			name: "expired one second ago",
			url:  sigv4URL(now.Add(-time.Hour), time.Hour-time.Second),
			want: StateExpired,
		},
		{
			name: "expires exactly now",
			url:  sigv4URL(now.Add(-time.Hour), time.Hour),
			want: StateExpired,
		},
		{
			name: "expires within threshold",
			url:  sigv4URL(now, time.Hour),
			want: StateExpiringSoon,
		},
		{
			name: "expires exactly at threshold boundary",
			url:  sigv4URL(now, threshold),
			want: StateExpiringSoon,
		},
		{
			name: "expires one second past threshold",
			url:  sigv4URL(now, threshold+time.Second),
			want: StateValid,
		},
		{
			name: "valid for a day",
			url:  sigv4URL(now, 24*time.Hour),
			want: StateValid,
		},
		{
			name: "legacy epoch expired",
			url:  fmt.Sprintf("https://host/bucket/key.jpg?Expires=%d&Signature=x", now.Add(-time.Minute).Unix()),
			want: StateExpired,
		},
		{
			name: "legacy epoch valid",
			url:  fmt.Sprintf("https://host/bucket/key.jpg?Expires=%d&Signature=x", now.Add(48*time.Hour).Unix()),
			want: StateValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.url, threshold, now)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestURLStateNeedsRefresh(t *testing.T) {
	tests := []struct {
		state URLState
		want  bool
	}{
		{StateNoURL, false},
		{StateValid, false},
		{StateExpiringSoon, true},
		{StateExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.NeedsRefresh(); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiryTime(t *testing.T) {
	signedAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	got, err := ExpiryTime(sigv4URL(signedAt, 86400*time.Second))
	if err != nil {
		t.Fatalf("ExpiryTime() error = %v", err)
	}
	want := signedAt.Add(86400 * time.Second)
	if !got.Equal(want) {
		t.Errorf("ExpiryTime() = %v, want %v", got, want)
	}

	if _, err := ExpiryTime("https://host/plain.jpg"); err == nil {
		t.Error("expected error for URL without expiry parameters")
	}
}

func TestKeyFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		bucket  string
		want    string
		wantErr bool
	}{
		{
			name:   "virtual hosted style",
			url:    "https://photos.s3.eu-west-1.amazonaws.com/odk_images/2026-08/sub-1-building.jpg?X-Amz-Date=20260829T100000Z&X-Amz-Expires=86400",
			bucket: "photos",
			want:   "odk_images/2026-08/sub-1-building.jpg",
		},
		{
			name:   "path style",
			url:    "https://minio.local:9000/photos/odk_images/2026-08/sub-1-building.jpg",
			bucket: "photos",
			want:   "odk_images/2026-08/sub-1-building.jpg",
		},
		{
			name:   "escaped key segment",
			url:    "https://photos.s3.amazonaws.com/odk_images/2026-08/sub%201-a.jpg",
			bucket: "photos",
			want:   "odk_images/2026-08/sub 1-a.jpg",
		},
		{
			name:    "different bucket",
			url:     "https://other.s3.amazonaws.com/some/key.jpg",
			bucket:  "photos",
			wantErr: true,
		},
		{
			name:    "no object path",
			url:     "https://photos.s3.amazonaws.com/",
			bucket:  "photos",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeyFromURL(tt.url, tt.bucket)
			if (err != nil) != tt.wantErr {
				t.Fatalf("KeyFromURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("KeyFromURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
