// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/bureau-foundation/morum/lib/ref"

// UncategorizedID is the API token for "no category".
const UncategorizedID = "uncategorized"

// Room is a joined room recognised as a forum post. Only rooms with
// both a name and a decodable post alias become Rooms.
type Room struct {
	Title    string
	Topic    *string
	Category *string
	PostID   uint64
	RoomID   ref.RoomID
}

// Category is a top-level grouping of subcategories. RoomLocalID is the
// slug from the category room's alias in space-backed mode and the
// configured identifier in static mode.
type Category struct {
	Title         string        `json:"title"`
	Topic         string        `json:"topic"`
	RoomLocalID   string        `json:"room_local_id"`
	RoomID        ref.RoomID    `json:"-"`
	Subcategories []Subcategory `json:"subcategories"`
}

// Subcategory is the unit posts are assigned to. A nil ID is the
// uncategorized bucket.
type Subcategory struct {
	ID    *string `json:"id"`
	Title string  `json:"title"`
	Topic string  `json:"topic"`
}

// Matches reports whether a post with the given category assignment
// belongs to this subcategory. Two nil values match.
func (s Subcategory) Matches(category *string) bool {
	return EqualCategory(s.ID, category)
}

// EqualCategory compares optional category identifiers.
func EqualCategory(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Post is the API projection of a Room.
type Post struct {
	ID     uint64     `json:"id"`
	Title  string     `json:"title"`
	Topic  *string    `json:"topic"`
	RoomID ref.RoomID `json:"room_id"`
}

// Comment is one rendered message in a post room, in chronological order.
type Comment struct {
	HTML   string     `json:"html"`
	Sender ref.UserID `json:"sender"`
}

// PostFromRoom projects a classified room into the API shape.
func PostFromRoom(room Room) Post {
	return Post{
		ID:     room.PostID,
		Title:  room.Title,
		Topic:  room.Topic,
		RoomID: room.RoomID,
	}
}
