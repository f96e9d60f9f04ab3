// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package unified

import "fmt"

// imageWidth is the fixed render width BI dashboards expect.
const imageWidth = 200

// ImageHTML renders the presentation markup for a signed image URL. Returns
// nil when the URL is absent so the unified table never carries a
// broken-image tag.
func ImageHTML(url *string) *string {
	if url == nil || *url == "" {
		return nil
	}
	html := fmt.Sprintf(`<img src="%s" width="%d" />`, *url, imageWidth)
	return &html
}
