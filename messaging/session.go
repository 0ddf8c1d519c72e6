// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/morum/lib/ref"
)

// Session is the set of Matrix operations the forum performs. Packages
// above messaging depend on this interface so that tests can substitute
// a session that counts or fails calls.
type Session interface {
	// UserID returns the user the session acts as.
	UserID() ref.UserID

	// Close releases resources held by the session. Idempotent.
	Close() error

	// WhoAmI validates the session and returns the token owner.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// AsUser returns a session that asserts userID's identity.
	AsUser(userID ref.UserID) Session

	// RegisterUser registers an account in the application service
	// namespace. created is false when the account already existed.
	RegisterUser(ctx context.Context, localpart string) (created bool, err error)

	// ResolveAlias resolves a room alias to a room ID.
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// GetRoomState fetches all current state events of a room.
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error)

	// SendStateEvent writes a state event. Returns the event ID.
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)

	// SendEventWithTransaction sends a timeline event under an explicit
	// transaction ID for deduplicated retries.
	SendEventWithTransaction(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error)

	// CreateRoom creates a room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// JoinRoom joins a room by ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// RoomMessages fetches one page of a room's timeline.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// Sync performs a /sync request.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
