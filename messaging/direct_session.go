// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/secret"
)

// DirectSession is an authenticated Matrix session. The access token is
// held in a secret.Buffer; the caller must call Close when done.
//
// A session derived with AsUser shares the parent's token and asserts a
// different identity through the user_id query parameter. Closing a derived session is a no-op; the
// token belongs to the parent.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string

	// assertedUser is non-zero on sessions derived with AsUser.
	assertedUser ref.UserID
}

func (c *Client) newSession(accessToken *secret.Buffer, userID ref.UserID, deviceID string) *DirectSession {
	return &DirectSession{
		client:      c,
		accessToken: accessToken,
		userID:      userID,
		deviceID:    deviceID,
	}
}

// UserID returns the user this session acts as: the asserted user for a
// derived session, the token owner otherwise.
func (s *DirectSession) UserID() ref.UserID {
	if !s.assertedUser.IsZero() {
		return s.assertedUser
	}
	return s.userID
}

// DeviceID returns the device ID reported at login, if any.
func (s *DirectSession) DeviceID() string {
	return s.deviceID
}

// CloseIdleConnections drops pooled connections in the client transport.
func (s *DirectSession) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the access token memory. Idempotent.
func (s *DirectSession) Close() error {
	if s.accessToken != nil && s.assertedUser.IsZero() {
		return s.accessToken.Close()
	}
	return nil
}

// AsUser returns a session that acts as userID. The homeserver honours
// this only for application service tokens whose namespace covers
// userID; other tokens get M_FORBIDDEN on the first request.
func (s *DirectSession) AsUser(userID ref.UserID) Session {
	return &DirectSession{
		client:       s.client,
		accessToken:  s.accessToken,
		userID:       s.userID,
		deviceID:     s.deviceID,
		assertedUser: userID,
	}
}

// do issues an authenticated request, adding the identity assertion for
// derived sessions.
func (s *DirectSession) do(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	if !s.assertedUser.IsZero() {
		if query == nil {
			query = url.Values{}
		}
		query.Set("user_id", s.assertedUser.String())
	}
	return s.client.doRequest(ctx, method, path, s.accessToken, body, query)
}

// WhoAmI validates the access token and returns the user ID.
func (s *DirectSession) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	if s.userID.IsZero() && s.assertedUser.IsZero() {
		s.userID = response.UserID
	}
	return response.UserID, nil
}

// RegisterUser registers localpart in the application service's
// namespace without creating a device. It reports created=false when
// the account already exists, which callers treat as success.
func (s *DirectSession) RegisterUser(ctx context.Context, localpart string) (bool, error) {
	request := RegisterUserRequest{
		Type:         "m.login.application_service",
		Username:     localpart,
		InhibitLogin: true,
	}
	_, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", s.accessToken, request, nil)
	if IsMatrixError(err, ErrCodeUserInUse) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("messaging: register %q failed: %w", localpart, err)
	}
	s.client.logger.Info("registered matrix account", "localpart", localpart)
	return true, nil
}

// CreateRoom creates a new Matrix room.
func (s *DirectSession) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	body, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", request, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: create room failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}

	s.client.logger.Info("created matrix room",
		"room_id", response.RoomID,
		"alias", request.Alias,
		"name", request.Name,
	)
	return &response, nil
}

// JoinRoom joins a room by ID and returns the room ID. Joining a room
// the user is already in succeeds.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.do(ctx, http.MethodPost, path, struct{}{}, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// SendEventWithTransaction sends a timeline event under a caller-chosen
// transaction ID. The homeserver deduplicates sends that reuse a
// transaction ID for the same access token and asserted user, so a
// retried send returns the original event ID instead of posting twice.
func (s *DirectSession) SendEventWithTransaction(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.do(ctx, http.MethodPut, path, content, nil)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send event to %s failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendStateEvent writes a state event. Writing the same type and state
// key again replaces the previous value.
func (s *DirectSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType.String()),
		url.PathEscape(stateKey),
	)

	body, err := s.do(ctx, http.MethodPut, path, content, nil)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send state event %s to %s failed: %w", eventType, roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send state response: %w", err)
	}
	return response.EventID, nil
}

// GetRoomState fetches every current state event of a room.
func (s *DirectSession) GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state", url.PathEscape(roomID.String()))

	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %s failed: %w", roomID, err)
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room state response: %w", err)
	}
	return events, nil
}

// RoomMessages fetches one page of a room's timeline.
func (s *DirectSession) RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID.String()))

	query := url.Values{}
	if options.From != "" {
		query.Set("from", options.From)
	}
	direction := options.Direction
	if direction == "" {
		direction = "b"
	}
	query.Set("dir", direction)
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.do(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: room messages for %s failed: %w", roomID, err)
	}

	var response RoomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse messages response: %w", err)
	}
	return &response, nil
}

// Sync performs a /sync request. Leave options.Since empty for the
// initial sync; set Timeout and SetTimeout to long-poll.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	if options.FullState {
		query.Set("full_state", "true")
	}

	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// ResolveAlias resolves a room alias to a room ID.
func (s *DirectSession) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %s failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

