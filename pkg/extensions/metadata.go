// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import "time"

// =============================================================================
// Metadata Type
// =============================================================================

// Metadata stores arbitrary key-value pairs for context and logging.
//
// Using a defined type rather than map[string]any provides:
//   - Clearer intent in function signatures
//   - Ability to add methods for type-safe access
//   - Compile-time distinction from arbitrary maps
//
// # Common Keys
//
// While Metadata is flexible, these keys are commonly used:
//   - "run_id": Remediation run identifier
//   - "request_id": Request correlation ID
//   - "agent_id": Agent that submitted the action
//   - "action_type": Remediation action type
//   - "environment": Target environment
//   - "risk_level": Assessed risk level
//   - "error": Error message if applicable
//   - "duration_ms": Operation duration
//
// # Thread Safety
//
// Metadata is NOT thread-safe. Do not share a single Metadata instance
// across goroutines without external synchronization.
//
// Example:
//
//	meta := extensions.NewMetadata().
//	    Set("run_id", runID).
//	    Set("action_type", "restart_pod").
//	    Set("duration_ms", int64(150))
//
//	// Type-safe access
//	if runID, ok := meta.GetString("run_id"); ok {
//	    log.Info("run", "id", runID)
//	}
type Metadata map[string]any

// NewMetadata creates an empty, initialized Metadata map. This is the
// preferred way to create Metadata instances.
//
// The returned Metadata is not thread-safe.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Set adds or updates a key-value pair and returns the Metadata for
// chaining.
//
// Example:
//
//	meta := NewMetadata().
//	    Set("run_id", "run-123").
//	    Set("agent_id", "agent-456").
//	    Set("submitted_at", time.Now())
func (m Metadata) Set(key string, value any) Metadata {
	m[key] = value
	return m
}

// Get retrieves a value by key. The boolean reports whether the key
// exists.
func (m Metadata) Get(key string) (any, bool) {
	value, ok := m[key]
	return value, ok
}

// GetString retrieves a string value by key. Returns "" and false if
// the key is absent or holds a non-string value.
//
// Example:
//
//	if runID, ok := meta.GetString("run_id"); ok {
//	    log.Info("run", "id", runID)
//	}
func (m Metadata) GetString(key string) (string, bool) {
	value, ok := m[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// GetInt retrieves an int value by key. Returns 0 and false if the key
// is absent or holds a non-int value.
func (m Metadata) GetInt(key string) (int, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	i, ok := value.(int)
	return i, ok
}

// GetInt64 retrieves an int64 value by key. Returns 0 and false if the
// key is absent or holds a non-int64 value.
//
// Example:
//
//	if durationMs, ok := meta.GetInt64("duration_ms"); ok {
//	    fmt.Printf("Duration: %dms\n", durationMs)
//	}
func (m Metadata) GetInt64(key string) (int64, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	i, ok := value.(int64)
	return i, ok
}

// GetFloat64 retrieves a float64 value by key. Returns 0 and false if
// the key is absent or holds a non-float64 value.
func (m Metadata) GetFloat64(key string) (float64, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := value.(float64)
	return f, ok
}

// GetBool retrieves a bool value by key. The second return reports
// whether the key exists and holds a bool.
//
// Example:
//
//	if reversible, ok := meta.GetBool("reversible"); ok && !reversible {
//	    // handle the non-reversible case
//	}
func (m Metadata) GetBool(key string) (bool, bool) {
	value, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// GetTime retrieves a time.Time value by key. Returns the zero time and
// false if the key is absent or holds a non-time value.
func (m Metadata) GetTime(key string) (time.Time, bool) {
	value, ok := m[key]
	if !ok {
		return time.Time{}, false
	}
	t, ok := value.(time.Time)
	return t, ok
}

// Has reports whether a key exists, regardless of its value (including
// nil).
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Delete removes a key and returns the Metadata for chaining. Safe to
// call for keys that don't exist.
func (m Metadata) Delete(key string) Metadata {
	delete(m, key)
	return m
}

// Clone creates a shallow copy of the Metadata. Values themselves are
// not deep-copied: pointer values in the copy alias the originals.
//
// Example:
//
//	original := NewMetadata().Set("key", "value")
//	copied := original.Clone()
//	copied.Set("key", "modified") // original unchanged
func (m Metadata) Clone() Metadata {
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Merge copies all key-value pairs from another Metadata into this one,
// overwriting existing keys. A nil argument is a no-op.
//
// Example:
//
//	base := NewMetadata().Set("environment", "production")
//	extra := NewMetadata().Set("risk_level", "HIGH")
//	base.Merge(extra)
//	// base now has both keys
func (m Metadata) Merge(other Metadata) Metadata {
	if other == nil {
		return m
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Keys returns all keys in the Metadata. Order is not guaranteed.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of key-value pairs.
func (m Metadata) Len() int {
	return len(m)
}
