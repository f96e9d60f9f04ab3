// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"bytes"
	"image/png"
	"testing"
	"time"
)

func TestAttachmentKey(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		submission string
		filename   string
		want       string
	}{
		{
			name:       "plain filename",
			submission: "uuid:abc-123",
			filename:   "building.jpg",
			want:       "odk_images/2026-08/uuid:abc-123-building.jpg",
		},
		{
			name:       "filename with directories stripped",
			submission: "sub-9",
			filename:   "media/photos/front.png",
			want:       "odk_images/2026-08/sub-9-front.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AttachmentKey("odk_images", tt.submission, tt.filename, now)
			if got != tt.want {
				t.Errorf("AttachmentKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlaceholderKey(t *testing.T) {
	got := PlaceholderKey("odk_images", "sub-42")
	want := "odk_images/placeholders/sub-42.png"
	if got != want {
		t.Errorf("PlaceholderKey() = %q, want %q", got, want)
	}
}

func TestPlaceholderPNG(t *testing.T) {
	data, err := PlaceholderPNG()
	if err != nil {
		t.Fatalf("PlaceholderPNG() error = %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != placeholderWidth || bounds.Dy() != placeholderHeight {
		t.Errorf("placeholder dimensions = %dx%d, want %dx%d",
			bounds.Dx(), bounds.Dy(), placeholderWidth, placeholderHeight)
	}
}
