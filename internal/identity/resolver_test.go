// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package identity

import (
	"errors"
	"testing"
)

func TestPrefixResolver(t *testing.T) {
	tests := []struct {
		name    string
		child   ChildRecord
		want    string
		wantErr bool
	}{
		{"composite key", ChildRecord{Key: "P123_4"}, "P123", false},
		{"uuid composite", ChildRecord{Key: "uuid:9f8e_2"}, "uuid:9f8e", false},
		{"multiple separators splits on first", ChildRecord{Key: "P12_3_4"}, "P12", false},
		{"no separator uses whole key", ChildRecord{Key: "P123"}, "P123", false},
		{"leading separator keeps whole key", ChildRecord{Key: "_4"}, "_4", false},
		{"keyless with parent ref", ChildRecord{ParentRef: "P777"}, "P777", false},
		{"no identity at all", ChildRecord{}, "", true},
	}

	r, err := NewResolver(StrategyPrefix, "_")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveParentKey(tt.child)
			if tt.wantErr {
				if !errors.Is(err, ErrNoIdentity) {
					t.Errorf("expected ErrNoIdentity, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveParentKey: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveParentKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDirectResolver(t *testing.T) {
	r, err := NewResolver(StrategyDirect, "_")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := r.ResolveParentKey(ChildRecord{Key: "P123_4", ParentRef: "P999"})
	if err != nil {
		t.Fatalf("ResolveParentKey: %v", err)
	}
	if got != "P999" {
		t.Errorf("direct resolver should ignore composite key, got %q", got)
	}

	if _, err := r.ResolveParentKey(ChildRecord{Key: "P123_4"}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity without parent ref, got %v", err)
	}
}

func TestHybridResolver(t *testing.T) {
	r, err := NewResolver(StrategyHybrid, "_")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	// Direct reference wins when present.
	got, err := r.ResolveParentKey(ChildRecord{Key: "P123_4", ParentRef: "P999"})
	if err != nil || got != "P999" {
		t.Errorf("hybrid with ref = %q, %v; want P999", got, err)
	}

	// Falls back to prefix split.
	got, err = r.ResolveParentKey(ChildRecord{Key: "P123_4"})
	if err != nil || got != "P123" {
		t.Errorf("hybrid without ref = %q, %v; want P123", got, err)
	}

	if _, err := r.ResolveParentKey(ChildRecord{}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
}

func TestNewResolverUnknownStrategy(t *testing.T) {
	if _, err := NewResolver("fuzzy", "_"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestNewResolverDefaultSeparator(t *testing.T) {
	r, err := NewResolver(StrategyPrefix, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got, err := r.ResolveParentKey(ChildRecord{Key: "P1_2"})
	if err != nil || got != "P1" {
		t.Errorf("default separator resolution = %q, %v", got, err)
	}
}

func TestReconstructKey(t *testing.T) {
	tests := []struct {
		name      string
		parentRef string
		sep       string
		position  string
		want      string
	}{
		{"basic", "P123", "_", "4", "P123_4"},
		{"default separator", "P123", "", "4", "P123_4"},
		{"missing parent", "", "_", "4", ""},
		{"missing position", "P123", "_", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReconstructKey(tt.parentRef, tt.sep, tt.position); got != tt.want {
				t.Errorf("ReconstructKey = %q, want %q", got, tt.want)
			}
		})
	}
}
