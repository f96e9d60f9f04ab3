// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

// Package identity ties person_details child records back to their parent
// submissions. ODK emits child keys in three shapes depending on form
// version: composite keys prefixed with the parent key ("P123_4"), explicit
// "__Submissions-id" references, and keyless rows that only carry the parent
// reference plus a repeat position. The resolver strategies cover all three.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy names accepted by NewResolver (config sync.link_strategy).
const (
	StrategyPrefix = "prefix"
	StrategyDirect = "direct"
	StrategyHybrid = "hybrid"
)

// ErrNoIdentity is returned when a child record has neither a usable key
// nor the materials to reconstruct one. Callers log and drop the record.
var ErrNoIdentity = errors.New("child record has no identity and no reconstruction materials")

// ChildRecord is the minimal view of a child the resolver needs.
type ChildRecord struct {
	// Key is the child's own key, possibly composite ("<parent><sep><n>").
	// May be empty for keyless rows.
	Key string

	// ParentRef is the explicit parent reference, when the feed carries one.
	ParentRef string

	// Position is the 1-based index inside the parent's repeat group, as a
	// string because ODK serializes it that way. Used for key reconstruction.
	Position string
}

// Resolver derives the parent key for a child record.
type Resolver interface {
	// ResolveParentKey returns the key of the parent submission this child
	// belongs to, or ErrNoIdentity when the record cannot be tied to one.
	ResolveParentKey(child ChildRecord) (string, error)
}

// NewResolver returns the resolver for the named strategy.
func NewResolver(strategy, separator string) (Resolver, error) {
	if separator == "" {
		separator = "_"
	}
	switch strategy {
	case StrategyPrefix:
		return &prefixResolver{sep: separator}, nil
	case StrategyDirect:
		return &directResolver{}, nil
	case StrategyHybrid:
		return &hybridResolver{
			direct: directResolver{},
			prefix: prefixResolver{sep: separator},
		}, nil
	default:
		return nil, fmt.Errorf("unknown link strategy %q", strategy)
	}
}

// ReconstructKey builds a child key from the parent reference and repeat
// position, for feeds that omit child keys entirely. Returns empty string
// when either part is missing.
func ReconstructKey(parentRef, separator, position string) string {
	if parentRef == "" || position == "" {
		return ""
	}
	if separator == "" {
		separator = "_"
	}
	return parentRef + separator + position
}

// prefixResolver splits composite child keys on the first separator:
// "P123_4" -> "P123". A key with no separator is treated as the parent key
// itself. Keyless children fall back to reconstruction from ParentRef.
type prefixResolver struct {
	sep string
}

func (r *prefixResolver) ResolveParentKey(child ChildRecord) (string, error) {
	key := child.Key
	if key == "" {
		// Keyless row: the parent reference alone identifies the parent.
		if child.ParentRef != "" {
			return child.ParentRef, nil
		}
		return "", ErrNoIdentity
	}

	if idx := strings.Index(key, r.sep); idx > 0 {
		return key[:idx], nil
	}
	return key, nil
}

// directResolver uses the explicit parent reference only.
type directResolver struct{}

func (r *directResolver) ResolveParentKey(child ChildRecord) (string, error) {
	if child.ParentRef == "" {
		return "", ErrNoIdentity
	}
	return child.ParentRef, nil
}

// hybridResolver prefers the explicit reference and falls back to the
// prefix split when the feed omits it.
type hybridResolver struct {
	direct directResolver
	prefix prefixResolver
}

func (r *hybridResolver) ResolveParentKey(child ChildRecord) (string, error) {
	if key, err := r.direct.ResolveParentKey(child); err == nil {
		return key, nil
	}
	return r.prefix.ResolveParentKey(child)
}
