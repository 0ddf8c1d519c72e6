// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"github.com/bureau-foundation/morum/lib/ref"
)

// Matrix event types read or written by the forum.
const (
	EventTypeRoomName       ref.EventType = "m.room.name"
	EventTypeRoomTopic      ref.EventType = "m.room.topic"
	EventTypeCanonicalAlias ref.EventType = "m.room.canonical_alias"
	EventTypeSpaceChild     ref.EventType = "m.space.child"
	EventTypeRoomMessage    ref.EventType = "m.room.message"
	EventTypeRoomMember     ref.EventType = "m.room.member"

	// EventTypeCategory assigns a post room to a category. State key
	// is empty. See CategoryContent.
	EventTypeCategory ref.EventType = "org.corepaper.morum.category"
)

// RoomNameContent is the content of m.room.name.
type RoomNameContent struct {
	Name string `json:"name"`
}

// RoomTopicContent is the content of m.room.topic.
type RoomTopicContent struct {
	Topic string `json:"topic"`
}

// CanonicalAliasContent is the content of m.room.canonical_alias.
// Alias and AltAliases are kept as strings: a room can carry aliases
// on foreign servers or aliases another client wrote badly, and one bad
// entry must not hide the rest.
type CanonicalAliasContent struct {
	Alias      string   `json:"alias,omitempty"`
	AltAliases []string `json:"alt_aliases,omitempty"`
}

// SpaceChildContent is the content of m.space.child. The child room ID
// is the state key. A child event with an empty Via list has been
// removed from the space.
type SpaceChildContent struct {
	Via []string `json:"via,omitempty"`
}

// CategoryContent is the content of EventTypeCategory. The empty
// string means "no category"; it is always written explicitly so that
// clearing a category is a state change other clients observe.
type CategoryContent struct {
	Category string `json:"category"`
}

// NewCategoryContent encodes an optional category identifier.
func NewCategoryContent(category *string) CategoryContent {
	if category == nil {
		return CategoryContent{Category: ""}
	}
	return CategoryContent{Category: *category}
}

// Assignment decodes the content into an optional category identifier.
func (c CategoryContent) Assignment() *string {
	if c.Category == "" {
		return nil
	}
	category := c.Category
	return &category
}
