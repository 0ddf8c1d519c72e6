// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/morum/lib/alias"
	"github.com/bureau-foundation/morum/lib/roomcache"
	"github.com/bureau-foundation/morum/lib/schema"
)

// Classifier derives post rooms from the room cache.
type Classifier struct {
	cache  *roomcache.Cache
	codec  *alias.Codec
	logger *slog.Logger
}

// NewClassifier returns a Classifier reading from cache. A nil logger
// uses slog.Default().
func NewClassifier(cache *roomcache.Cache, codec *alias.Codec, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{cache: cache, codec: codec, logger: logger}
}

// ValidRooms returns every joined room that carries a name and a
// #forum_post_<n> alias, sorted by post ID. Rooms without either are
// skipped. When a room has several post aliases the last one in alias
// order wins. Blocks until the cache has completed its first sync.
func (c *Classifier) ValidRooms(ctx context.Context) ([]schema.Room, error) {
	snapshot, err := c.cache.WaitReady(ctx)
	if err != nil {
		return nil, err
	}
	return c.Classify(snapshot), nil
}

// Classify is ValidRooms over a given snapshot.
func (c *Classifier) Classify(snapshot *roomcache.Snapshot) []schema.Room {
	var rooms []schema.Room
	for _, roomID := range snapshot.Rooms() {
		state, _ := snapshot.State(roomID)

		var postID uint64
		var found bool
		for _, candidate := range state.Aliases() {
			if id, ok := c.codec.DecodePost(candidate); ok {
				postID, found = id, true
			}
		}
		if !found {
			continue
		}

		title, ok := state.Name()
		if !ok {
			c.logger.Debug("skipping post room without a name", "room_id", roomID, "post_id", postID)
			continue
		}

		room := schema.Room{
			Title:    title,
			Category: state.Category(),
			PostID:   postID,
			RoomID:   roomID,
		}
		if topic, ok := state.Topic(); ok {
			room.Topic = &topic
		}
		rooms = append(rooms, room)
	}
	slices.SortStableFunc(rooms, func(a, b schema.Room) int {
		return cmp.Or(cmp.Compare(a.PostID, b.PostID), cmp.Compare(a.RoomID.String(), b.RoomID.String()))
	})
	return rooms
}

// maxPostID returns the largest post ID in rooms, or 0.
func maxPostID(rooms []schema.Room) uint64 {
	var highest uint64
	for _, room := range rooms {
		highest = max(highest, room.PostID)
	}
	return highest
}
