// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomstate reads forum-relevant values out of a room's current
// state events.
//
// Every accessor follows the same rule: the first event of the wanted
// type and state key is authoritative, and a missing, redacted or
// undecodable event reads as absent. A state read never fails; the
// caller decides whether an absent value excludes the room.
package roomstate

import (
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/messaging"
)

// State is the current state of one room.
type State []messaging.Event

// first returns the first usable event of eventType with stateKey.
func (s State) first(eventType ref.EventType, stateKey string) (messaging.Event, bool) {
	for _, event := range s {
		if event.Type != eventType || event.StateKey == nil || *event.StateKey != stateKey {
			continue
		}
		if event.IsRedacted() {
			return messaging.Event{}, false
		}
		return event, true
	}
	return messaging.Event{}, false
}

// decodeFirst decodes the first event of eventType with an empty state
// key into content.
func decodeFirst[T any](s State, eventType ref.EventType) (T, bool) {
	var content T
	event, ok := s.first(eventType, "")
	if !ok {
		return content, false
	}
	if err := event.DecodeContent(&content); err != nil {
		return content, false
	}
	return content, true
}

// Name returns the room name. An empty name reads as absent.
func (s State) Name() (string, bool) {
	content, ok := decodeFirst[schema.RoomNameContent](s, schema.EventTypeRoomName)
	if !ok || content.Name == "" {
		return "", false
	}
	return content.Name, true
}

// Topic returns the room topic. An empty topic reads as absent.
func (s State) Topic() (string, bool) {
	content, ok := decodeFirst[schema.RoomTopicContent](s, schema.EventTypeRoomTopic)
	if !ok || content.Topic == "" {
		return "", false
	}
	return content.Topic, true
}

// Category returns the room's category assignment, or nil for none.
// A missing event and an explicit empty assignment both read as none.
func (s State) Category() *string {
	content, ok := decodeFirst[schema.CategoryContent](s, schema.EventTypeCategory)
	if !ok {
		return nil
	}
	return content.Assignment()
}

// Aliases returns the canonical alias followed by the alternative
// aliases, in event order. Entries are returned as written; decoding
// them is the caller's concern.
func (s State) Aliases() []string {
	content, ok := decodeFirst[schema.CanonicalAliasContent](s, schema.EventTypeCanonicalAlias)
	if !ok {
		return nil
	}
	var aliases []string
	if content.Alias != "" {
		aliases = append(aliases, content.Alias)
	}
	for _, alias := range content.AltAliases {
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	return aliases
}

// SpaceChildren returns the rooms listed as children of this space, in
// event order. Children whose via list is empty have been removed and
// are skipped, as are state keys that are not room IDs.
func (s State) SpaceChildren() []ref.RoomID {
	var children []ref.RoomID
	seen := make(map[ref.RoomID]bool)
	for _, event := range s {
		if event.Type != schema.EventTypeSpaceChild || event.StateKey == nil || event.IsRedacted() {
			continue
		}
		roomID, err := ref.ParseRoomID(*event.StateKey)
		if err != nil || seen[roomID] {
			continue
		}
		var content schema.SpaceChildContent
		if err := event.DecodeContent(&content); err != nil || len(content.Via) == 0 {
			continue
		}
		seen[roomID] = true
		children = append(children, roomID)
	}
	return children
}
