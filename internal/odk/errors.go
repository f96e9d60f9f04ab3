// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package odk

import "fmt"

// FetchError is a non-2xx response from an ODK Central feed. The sync
// manager treats a still-failing fetch as an empty batch rather than an
// abort, so the error carries enough detail to diagnose from logs.
type FetchError struct {
	URL    string
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed with status %d: %s", e.URL, e.Status, e.Body)
}

// NotFoundError marks a 404 from a feed. The person_details feed returning
// 404 is expected when the form has no repeat group.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("feed not found: %s", e.URL)
}
