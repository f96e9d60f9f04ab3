// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// AttrMap is a JSONB attribute bag for nested form groups that the sync
// pipeline carries through opaquely (property_location, meta, __system,
// occupancy, ...). It round-trips between Postgres JSONB and Go maps.
//
// A nil AttrMap stores SQL NULL; an empty AttrMap stores '{}'.
type AttrMap map[string]interface{}

// Value implements driver.Valuer, serializing the map to JSONB bytes.
func (m AttrMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal attr map: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner, deserializing JSONB bytes into the map.
func (m *AttrMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AttrMap", src)
	}

	if len(data) == 0 {
		*m = nil
		return nil
	}

	out := AttrMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal attr map: %w", err)
	}
	*m = out
	return nil
}

// GetString returns the string value at key, or "" when absent or not a string.
func (m AttrMap) GetString(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// GetMap returns the nested map at key, or nil when absent or malformed.
func (m AttrMap) GetMap(key string) AttrMap {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case map[string]interface{}:
		return AttrMap(v)
	case AttrMap:
		return v
	default:
		return nil
	}
}
