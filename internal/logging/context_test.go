// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestGenerateCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if len(id1) != 8 {
		t.Errorf("expected 8-char correlation ID, got %q (len %d)", id1, len(id1))
	}
	if id1 == id2 {
		t.Errorf("expected unique IDs, got %q twice", id1)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	if got := CorrelationIDFromContext(ctx); got != "abc12345" {
		t.Errorf("CorrelationIDFromContext = %q, want %q", got, "abc12345")
	}

	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty ID from bare context, got %q", got)
	}
}

func TestCtxAttachesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "deadbeef")
	Ctx(ctx).Info().Msg("cycle start")

	if !strings.Contains(buf.String(), `"correlation_id":"deadbeef"`) {
		t.Errorf("correlation_id field missing: %q", buf.String())
	}
}

func TestCtxWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Ctx(context.Background()).Info().Msg("plain")

	if strings.Contains(buf.String(), "correlation_id") {
		t.Errorf("unexpected correlation_id field: %q", buf.String())
	}
}
