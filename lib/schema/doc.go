// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the Matrix event types and content shapes the
// forum reads and writes, and the forum entities projected from them.
//
// Standard Matrix state (m.room.name, m.room.topic,
// m.room.canonical_alias, m.space.child) is read as written by any
// client. The forum adds one custom state event,
// [EventTypeCategory], which places a post room in a category.
//
// The forum entities ([Room], [Category], [Subcategory], [Post],
// [Comment]) are read projections rebuilt on every request; nothing in
// this package is persisted locally.
package schema
