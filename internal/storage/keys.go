// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"fmt"
	"path"
	"time"
)

// Image roles stored on a submission. Each role maps to one URL column.
const (
	RoleBuildingImage   = "building_image"
	RoleAddressPlusCode = "address_plus_code"
)

// AttachmentKey builds the object key for a re-hosted attachment:
// <base>/<YYYY-MM>/<submissionID>-<filename>. The month prefix keeps listing
// and retention manageable.
func AttachmentKey(baseFolder, submissionID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s", baseFolder, now.UTC().Format("2006-01"), submissionID, path.Base(filename))
}

// PlaceholderKey builds the object key for a generated placeholder image.
func PlaceholderKey(baseFolder, submissionID string) string {
	return fmt.Sprintf("%s/placeholders/%s.png", baseFolder, submissionID)
}
