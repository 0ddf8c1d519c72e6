// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"testing"

	"github.com/bureau-foundation/morum/lib/matrixtest"
	"github.com/bureau-foundation/morum/lib/schema"
)

func TestValidRooms(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	general := f.seedPost(2, "Second", ptr("general"))
	uncategorized := f.seedPost(1, "First", nil)

	untitled := f.homeserver.CreateRoom(matrixtest.RoomSpec{Alias: "#forum_post_3:test.local"})
	f.homeserver.CreateRoom(matrixtest.RoomSpec{Name: "Chat room", Alias: "#lobby:test.local"})
	f.homeserver.CreateRoom(matrixtest.RoomSpec{Name: "Foreign", Alias: "#forum_post_4:other.example"})
	f.homeserver.CreateRoom(matrixtest.RoomSpec{Name: "Not joined", Alias: "#forum_post_5:test.local", NotJoined: true})

	renamed := f.homeserver.CreateRoom(matrixtest.RoomSpec{Name: "Moved"})
	f.homeserver.SetState(renamed, schema.EventTypeCanonicalAlias, "", schema.CanonicalAliasContent{
		Alias:      "#forum_post_6:test.local",
		AltAliases: []string{"#forum_post_oops:test.local", "#forum_post_7:test.local"},
	})

	f.start(t)
	rooms, err := f.classifier.ValidRooms(testContext(t))
	if err != nil {
		t.Fatalf("ValidRooms: %v", err)
	}

	want := []struct {
		postID uint64
		title  string
	}{
		{1, "First"},
		{2, "Second"},
		{7, "Moved"},
	}
	if len(rooms) != len(want) {
		t.Fatalf("ValidRooms returned %d rooms, want %d: %+v", len(rooms), len(want), rooms)
	}
	for i, room := range rooms {
		if room.PostID != want[i].postID || room.Title != want[i].title {
			t.Errorf("rooms[%d] = %d %q, want %d %q", i, room.PostID, room.Title, want[i].postID, want[i].title)
		}
	}

	if rooms[0].RoomID != uncategorized || rooms[0].Category != nil {
		t.Errorf("first post: room %s category %v, want %s uncategorized", rooms[0].RoomID, rooms[0].Category, uncategorized)
	}
	if rooms[1].RoomID != general || rooms[1].Category == nil || *rooms[1].Category != "general" {
		t.Errorf("second post: room %s category %v, want %s general", rooms[1].RoomID, rooms[1].Category, general)
	}
	if rooms[1].Topic == nil || *rooms[1].Topic != "Second topic" {
		t.Errorf("second post topic = %v, want %q", rooms[1].Topic, "Second topic")
	}
	for _, room := range rooms {
		if room.RoomID == untitled {
			t.Errorf("room without a name was classified as post %d", room.PostID)
		}
	}
}

func TestValidRoomsIsDeterministic(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	for id := uint64(1); id <= 5; id++ {
		f.seedPost(id, "Post", nil)
	}
	f.start(t)

	snapshot := f.cache.Snapshot()
	first := f.classifier.Classify(snapshot)
	second := f.classifier.Classify(snapshot)
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("classified %d and %d rooms, want 5", len(first), len(second))
	}
	for i := range first {
		if first[i].PostID != second[i].PostID || first[i].RoomID != second[i].RoomID || first[i].Title != second[i].Title {
			t.Errorf("classification %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestMaxPostID(t *testing.T) {
	if got := maxPostID(nil); got != 0 {
		t.Errorf("maxPostID(nil) = %d, want 0", got)
	}
	rooms := []schema.Room{{PostID: 3}, {PostID: 11}, {PostID: 7}}
	if got := maxPostID(rooms); got != 11 {
		t.Errorf("maxPostID = %d, want 11", got)
	}
}

func TestClassifyEmptySnapshot(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if rooms := f.classifier.Classify(f.cache.Snapshot()); len(rooms) != 0 {
		t.Errorf("empty snapshot classified %d rooms", len(rooms))
	}
}
