// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import "fmt"

// StorageAccessError wraps object-store failures with the operation and key
// so callers can log actionable context without string matching SDK errors.
type StorageAccessError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageAccessError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageAccessError) Unwrap() error {
	return e.Err
}
