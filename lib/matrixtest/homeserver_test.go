// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixtest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/messaging"
)

func TestCreateRoomAndState(t *testing.T) {
	homeserver := New(t, Options{})
	session := homeserver.Session(t)
	ctx := context.Background()

	response, err := session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:  "Hello",
		Topic: "first post",
		Alias: "forum_post_1",
		InitialState: []messaging.StateEvent{
			{Type: "org.example.marker", Content: map[string]string{"value": "x"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	roomID, ok := homeserver.ResolveAlias("#forum_post_1:test.local")
	if !ok || roomID != response.RoomID {
		t.Fatalf("alias resolves to %v (%v), want %s", roomID, ok, response.RoomID)
	}

	state, err := session.GetRoomState(ctx, response.RoomID)
	if err != nil {
		t.Fatalf("GetRoomState: %v", err)
	}
	var name struct {
		Name string `json:"name"`
	}
	for _, event := range state {
		if event.Type == "m.room.name" {
			if err := json.Unmarshal(event.Content, &name); err != nil {
				t.Fatalf("decoding m.room.name: %v", err)
			}
		}
	}
	if name.Name != "Hello" {
		t.Errorf("name = %q, want Hello", name.Name)
	}

	if _, ok := homeserver.StateContent(response.RoomID, "org.example.marker", ""); !ok {
		t.Error("initial state not applied")
	}

	_, err = session.CreateRoom(ctx, messaging.CreateRoomRequest{Alias: "forum_post_1"})
	if !messaging.IsMatrixError(err, messaging.ErrCodeRoomInUse) {
		t.Errorf("duplicate alias error = %v, want M_ROOM_IN_USE", err)
	}

	if got := homeserver.Writes(); got != 2 {
		t.Errorf("Writes = %d, want 2", got)
	}
}

func TestRoomStateAccess(t *testing.T) {
	homeserver := New(t, Options{})
	session := homeserver.Session(t)
	ctx := context.Background()

	outside := homeserver.CreateRoom(RoomSpec{Name: "Outside", NotJoined: true})
	if _, err := session.GetRoomState(ctx, outside); !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Errorf("state of an unjoined room: error = %v, want M_FORBIDDEN", err)
	}
	_, err := session.GetRoomState(ctx, ref.MustParseRoomID("!missing:test.local"))
	if !messaging.IsNotFound(err) {
		t.Errorf("state of an unknown room: error = %v, want not found", err)
	}
	if homeserver.Writes() != 0 {
		t.Errorf("Writes = %d after reads and seeding, want 0", homeserver.Writes())
	}
}

func TestMessagesPaginateBackward(t *testing.T) {
	homeserver := New(t, Options{})
	roomID := homeserver.CreateRoom(RoomSpec{Name: "Room"})
	sender := homeserver.ServiceUser()
	var want []ref.EventID
	for _, body := range []string{"one", "two", "three"} {
		want = append(want, homeserver.AddMessage(roomID, sender, messaging.NewTextMessage(body)))
	}

	session := homeserver.Session(t)
	var got []ref.EventID
	from := ""
	for range 10 {
		page, err := session.RoomMessages(context.Background(), roomID, messaging.RoomMessagesOptions{
			From:      from,
			Direction: "b",
			Limit:     2,
			Filter:    `{"types":["m.room.message"]}`,
		})
		if err != nil {
			t.Fatalf("RoomMessages: %v", err)
		}
		for _, event := range page.Chunk {
			got = append(got, event.EventID)
		}
		if page.End == "" {
			break
		}
		from = page.End
	}

	if len(got) != 3 || got[0] != want[2] || got[1] != want[1] || got[2] != want[0] {
		t.Errorf("events = %v, want newest first %v", got, want)
	}
}

func TestAssertedUserMustBeRegistered(t *testing.T) {
	homeserver := New(t, Options{})
	roomID := homeserver.CreateRoom(RoomSpec{Name: "Room"})
	session := homeserver.Session(t)
	ctx := context.Background()
	author := ref.MustParseUserID("@forum_alice:test.local")

	_, err := session.AsUser(author).JoinRoom(ctx, roomID)
	if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Fatalf("join as unregistered user: %v, want M_FORBIDDEN", err)
	}

	created, err := session.RegisterUser(ctx, "forum_alice")
	if err != nil || !created {
		t.Fatalf("RegisterUser = %v, %v", created, err)
	}
	created, err = session.RegisterUser(ctx, "forum_alice")
	if err != nil || created {
		t.Fatalf("second RegisterUser = %v, %v, want false, nil", created, err)
	}

	if _, err := session.AsUser(author).JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, err := session.AsUser(author).SendEventWithTransaction(ctx, roomID, "m.room.message", "txn1", messaging.NewTextMessage("hi")); err != nil {
		t.Fatalf("SendEventWithTransaction: %v", err)
	}
	messages := homeserver.Messages(roomID)
	if len(messages) != 1 || messages[0].Sender != author {
		t.Errorf("messages = %+v, want one from %s", messages, author)
	}
}

func TestSendRequiresMembership(t *testing.T) {
	homeserver := New(t, Options{})
	roomID := homeserver.CreateRoom(RoomSpec{Name: "Room", NotJoined: true})

	_, err := homeserver.Session(t).SendEventWithTransaction(context.Background(), roomID, "m.room.message", "txn1", messaging.NewTextMessage("hi"))
	if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Errorf("error = %v, want M_FORBIDDEN", err)
	}
}

func TestFault(t *testing.T) {
	homeserver := New(t, Options{})
	homeserver.SetFault(func(request *http.Request) *messaging.MatrixError {
		if strings.HasSuffix(request.URL.Path, "/createRoom") {
			return &messaging.MatrixError{Code: messaging.ErrCodeLimitExceeded, Message: "slow down", StatusCode: http.StatusTooManyRequests}
		}
		return nil
	})

	_, err := homeserver.Session(t).CreateRoom(context.Background(), messaging.CreateRoomRequest{Name: "x"})
	if !messaging.IsMatrixError(err, messaging.ErrCodeLimitExceeded) {
		t.Errorf("error = %v, want M_LIMIT_EXCEEDED", err)
	}
}

func TestSyncReportsJoinedRoomsAndInvites(t *testing.T) {
	homeserver := New(t, Options{})
	joined := homeserver.CreateRoom(RoomSpec{Name: "Joined"})
	invited := homeserver.CreateRoom(RoomSpec{Name: "Invited", NotJoined: true})
	homeserver.Invite(invited, homeserver.ServiceUser())

	response, err := homeserver.Session(t).Sync(context.Background(), messaging.SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := response.Rooms.Join[joined]; !ok {
		t.Errorf("joined room missing from sync")
	}
	if _, ok := response.Rooms.Invite[invited]; !ok {
		t.Errorf("invite missing from sync")
	}
	if response.NextBatch == "" {
		t.Error("empty next_batch")
	}
}
