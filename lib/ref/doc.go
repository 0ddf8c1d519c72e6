// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable value types for the Matrix
// identifiers the forum passes around: room IDs, room aliases, user IDs,
// event IDs, event types, and server names.
//
// Identifiers arriving from the homeserver are parsed into these types
// at the JSON boundary through encoding.TextUnmarshaler, so code above
// the messaging layer never handles a raw, unvalidated identifier
// string. Forum-specific alias grammar (post and category aliases) is
// not here; see lib/alias.
package ref
