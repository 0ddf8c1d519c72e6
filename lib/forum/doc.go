// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package forum projects a forum out of Matrix rooms.
//
// Every post is a room whose canonical alias is #forum_post_<n>, whose
// name and topic are the post's title and topic, and whose
// org.corepaper.morum.category state assigns it to a subcategory.
// Comments are the room's m.room.message timeline.
//
// Reads go through the [Classifier], which derives [schema.Room]
// descriptors from the synced room cache, and a [Catalog], which
// supplies the category tree from configuration ([StaticCatalog]) or
// from the child rooms of the #forum space ([SpaceCatalog]). Writes go
// through the [Pipeline], which performs each forum action as a
// sequence of named Matrix operations and reports which of them
// completed when one fails. [Service] combines them behind the forum
// JSON API and handles login and access tokens.
package forum
