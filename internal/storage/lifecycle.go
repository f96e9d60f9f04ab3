// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// URLState classifies a stored signed URL against its embedded expiry.
type URLState int

const (
	// StateNoURL means the field has never been populated.
	StateNoURL URLState = iota

	// StateValid means the URL expires later than now+threshold.
	StateValid

	// StateExpiringSoon means the URL expires within the threshold window
	// (boundary inclusive) and should be refreshed proactively.
	StateExpiringSoon

	// StateExpired means the URL is already unusable, including URLs whose
	// expiry cannot be determined at all.
	StateExpired
)

// String returns the state name for logs.
func (s URLState) String() string {
	switch s {
	case StateNoURL:
		return "no_url"
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	default:
		return "expired"
	}
}

// NeedsRefresh reports whether the state warrants re-signing.
func (s URLState) NeedsRefresh() bool {
	return s == StateExpiringSoon || s == StateExpired
}

// amzDateLayout is the SigV4 timestamp format in X-Amz-Date.
const amzDateLayout = "20060102T150405Z"

// ErrNoExpiry is returned when a URL carries no recognizable expiry
// parameters. Classification treats it as expired.
var ErrNoExpiry = errors.New("url carries no expiry parameters")

// Classify determines the lifecycle state of a stored URL. A URL whose
// expiry is missing or malformed classifies as Expired so it gets refreshed
// rather than served broken. The threshold boundary itself is ExpiringSoon.
func Classify(rawURL string, threshold time.Duration, now time.Time) URLState {
	if strings.TrimSpace(rawURL) == "" {
		return StateNoURL
	}

	expiry, err := ExpiryTime(rawURL)
	if err != nil {
		return StateExpired
	}

	if !expiry.After(now) {
		return StateExpired
	}
	if !expiry.After(now.Add(threshold)) {
		return StateExpiringSoon
	}
	return StateValid
}

// ExpiryTime extracts the expiry instant embedded in a signed URL. SigV4
// URLs carry X-Amz-Date plus X-Amz-Expires (seconds); legacy signed URLs
// carry an absolute Expires epoch.
func ExpiryTime(rawURL string) (time.Time, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, err
	}
	q := u.Query()

	if amzDate := q.Get("X-Amz-Date"); amzDate != "" {
		signedAt, err := time.Parse(amzDateLayout, amzDate)
		if err != nil {
			return time.Time{}, err
		}
		seconds, err := strconv.ParseInt(q.Get("X-Amz-Expires"), 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return signedAt.Add(time.Duration(seconds) * time.Second), nil
	}

	if expires := q.Get("Expires"); expires != "" {
		epoch, err := strconv.ParseInt(expires, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(epoch, 0).UTC(), nil
	}

	return time.Time{}, ErrNoExpiry
}

// KeyFromURL recovers the object key from a stored signed URL so it can be
// re-signed without re-uploading. Handles both virtual-hosted
// (bucket.s3.region.amazonaws.com/key) and path-style (host/bucket/key)
// URLs. Returns an error for URLs that do not reference the bucket; such
// fields stay expired and are flagged rather than retried forever.
func KeyFromURL(rawURL, bucket string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return "", errors.New("url has no object path")
	}

	// Virtual-hosted style: bucket is the leading host label.
	if strings.HasPrefix(u.Host, bucket+".") {
		return url.PathUnescape(path)
	}

	// Path style: bucket is the first path segment.
	if segment, rest, found := strings.Cut(path, "/"); found && segment == bucket {
		return url.PathUnescape(rest)
	}

	return "", errors.New("url does not reference the configured bucket")
}
