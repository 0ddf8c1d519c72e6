// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomcache

import (
	"cmp"
	"slices"

	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/roomstate"
	"github.com/bureau-foundation/morum/messaging"
)

// Snapshot is an immutable view of the rooms the service account has
// joined and their current state. Nothing reachable from a published
// Snapshot is modified afterwards; callers must not modify the slices
// it returns either.
type Snapshot struct {
	version   uint64
	nextBatch string
	rooms     map[ref.RoomID]roomstate.State
	aliases   map[string]ref.RoomID

	// superseded is closed when the next snapshot is published.
	superseded chan struct{}
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		rooms:      map[ref.RoomID]roomstate.State{},
		aliases:    map[string]ref.RoomID{},
		superseded: make(chan struct{}),
	}
}

// Version counts applied sync responses. Version 0 is the empty
// snapshot published before the first sync completes.
func (s *Snapshot) Version() uint64 { return s.version }

// NextBatch is the sync token the snapshot was built up to.
func (s *Snapshot) NextBatch() string { return s.nextBatch }

// Len returns the number of joined rooms.
func (s *Snapshot) Len() int { return len(s.rooms) }

// Rooms returns the joined room IDs in lexical order.
func (s *Snapshot) Rooms() []ref.RoomID {
	rooms := make([]ref.RoomID, 0, len(s.rooms))
	for roomID := range s.rooms {
		rooms = append(rooms, roomID)
	}
	slices.SortFunc(rooms, func(a, b ref.RoomID) int {
		return cmp.Compare(a.String(), b.String())
	})
	return rooms
}

// Joined reports whether roomID is a joined room.
func (s *Snapshot) Joined(roomID ref.RoomID) bool {
	_, ok := s.rooms[roomID]
	return ok
}

// State returns the current state of a joined room.
func (s *Snapshot) State(roomID ref.RoomID) (roomstate.State, bool) {
	state, ok := s.rooms[roomID]
	return state, ok
}

// RoomByAlias finds the joined room whose canonical alias state lists
// alias, as the canonical or an alternative alias.
func (s *Snapshot) RoomByAlias(alias ref.RoomAlias) (ref.RoomID, bool) {
	roomID, ok := s.aliases[alias.String()]
	return roomID, ok
}

type stateKey struct {
	eventType ref.EventType
	stateKey  string
}

// next builds the snapshot that results from applying response. When
// fullState is set the state section of each joined room replaces the
// room's state; otherwise it is a delta over the previous state. State
// events in the timeline are newer than the state section and applied
// after it.
func (s *Snapshot) next(response *messaging.SyncResponse, fullState bool) *Snapshot {
	rooms := make(map[ref.RoomID]roomstate.State, len(s.rooms)+len(response.Rooms.Join))
	for roomID, state := range s.rooms {
		rooms[roomID] = state
	}
	for roomID := range response.Rooms.Leave {
		delete(rooms, roomID)
	}
	for roomID, joined := range response.Rooms.Join {
		var base roomstate.State
		if !fullState {
			base = rooms[roomID]
		}
		rooms[roomID] = mergeState(base, joined.State.Events, joined.Timeline.Events)
	}

	aliases := make(map[string]ref.RoomID)
	for roomID, state := range rooms {
		for _, alias := range state.Aliases() {
			aliases[alias] = roomID
		}
	}

	return &Snapshot{
		version:    s.version + 1,
		nextBatch:  response.NextBatch,
		rooms:      rooms,
		aliases:    aliases,
		superseded: make(chan struct{}),
	}
}

// mergeState overlays state events onto base and returns a new state
// with one event per (type, state key), ordered by type then key. base
// is not modified.
func mergeState(base roomstate.State, layers ...[]messaging.Event) roomstate.State {
	current := make(map[stateKey]messaging.Event, len(base))
	for _, event := range base {
		current[stateKey{event.Type, *event.StateKey}] = event
	}
	for _, layer := range layers {
		for _, event := range layer {
			if !event.IsState() {
				continue
			}
			current[stateKey{event.Type, *event.StateKey}] = event
		}
	}

	merged := make(roomstate.State, 0, len(current))
	for _, event := range current {
		merged = append(merged, event)
	}
	slices.SortFunc(merged, func(a, b messaging.Event) int {
		return cmp.Or(
			cmp.Compare(a.Type, b.Type),
			cmp.Compare(*a.StateKey, *b.StateKey),
		)
	})
	return merged
}
