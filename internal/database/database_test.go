// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package database

import (
	"strings"
	"testing"

	"github.com/ripplenami/odksync/internal/models"
)

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		want  string
	}{
		{"plain", "submissions", `"submissions"`},
		{"odata column", "__Submissions-id", `"__Submissions-id"`},
		{"embedded quote", `odd"name`, `"odd""name"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := quoteIdent(tt.ident); got != tt.want {
				t.Errorf("quoteIdent(%q) = %q, want %q", tt.ident, got, tt.want)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "$1, $2, $3" {
		t.Errorf("placeholders(3) = %q", got)
	}
	if got := placeholders(1); got != "$1" {
		t.Errorf("placeholders(1) = %q", got)
	}
}

func TestColumnList(t *testing.T) {
	got := columnList([]string{"UUID", "meta"})
	if got != `"UUID", "meta"` {
		t.Errorf("columnList = %q", got)
	}
}

func TestConflictAssignments(t *testing.T) {
	got := conflictAssignments("main", []string{"UUID", "logo", "building_image_url"},
		map[string]bool{"building_image_url": true})

	if strings.Contains(got, `"UUID" =`) {
		t.Error("conflict assignments must not overwrite the key column")
	}
	if !strings.Contains(got, `"logo" = EXCLUDED."logo"`) {
		t.Errorf("plain column not assigned from EXCLUDED: %s", got)
	}
	want := `"building_image_url" = COALESCE(EXCLUDED."building_image_url", "main"."building_image_url")`
	if !strings.Contains(got, want) {
		t.Errorf("preserved column missing COALESCE: %s", got)
	}
}

func TestValueOrderMatchesColumns(t *testing.T) {
	if got := len(submissionValues(&models.Submission{})); got != len(submissionColumns) {
		t.Errorf("submission values = %d, columns = %d", got, len(submissionColumns))
	}
	if got := len(personValues(&models.PersonDetail{})); got != len(personColumns) {
		t.Errorf("person values = %d, columns = %d", got, len(personColumns))
	}
}

func TestTruncateError(t *testing.T) {
	long := strings.Repeat("x", maxErrorMessageLen+50)
	if got := truncateError(long); len(got) != maxErrorMessageLen {
		t.Errorf("truncated length = %d, want %d", len(got), maxErrorMessageLen)
	}
	if got := truncateError("short"); got != "short" {
		t.Errorf("short message changed: %q", got)
	}
}

func TestServiceInstanceID(t *testing.T) {
	id := serviceInstanceID()
	if id == "" {
		t.Fatal("empty service instance id")
	}
	if !strings.Contains(id, "-") {
		t.Errorf("service instance %q missing hostname-pid separator", id)
	}
}
