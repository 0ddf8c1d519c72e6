// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type. Constants
// for the types the forum reads and writes live in lib/schema.
//
// EventType is a named string rather than a struct wrapper: event types
// need no validation, only compile-time separation from state keys.
type EventType string

// String returns the event type string (e.g., "m.room.name").
func (t EventType) String() string { return string(t) }
