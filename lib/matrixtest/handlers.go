// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/morum/lib/netutil"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/messaging"
)

const clientPrefix = "/_matrix/client/v3"

func (h *Homeserver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_matrix/client/versions", h.handleVersions)
	mux.HandleFunc("POST "+clientPrefix+"/login", h.handleLogin)
	mux.HandleFunc("GET "+clientPrefix+"/account/whoami", h.authenticated(h.handleWhoAmI))
	mux.HandleFunc("POST "+clientPrefix+"/register", h.authenticated(h.handleRegister))
	mux.HandleFunc("POST "+clientPrefix+"/createRoom", h.authenticated(h.handleCreateRoom))
	mux.HandleFunc("POST "+clientPrefix+"/join/{room}", h.authenticated(h.handleJoin))
	mux.HandleFunc("GET "+clientPrefix+"/directory/room/{alias}", h.authenticated(h.handleDirectory))
	mux.HandleFunc("GET "+clientPrefix+"/rooms/{room}/state", h.authenticated(h.handleRoomState))
	mux.HandleFunc("PUT "+clientPrefix+"/rooms/{room}/state/{type}/{key...}", h.authenticated(h.handlePutState))
	mux.HandleFunc("PUT "+clientPrefix+"/rooms/{room}/send/{type}/{txn}", h.authenticated(h.handleSend))
	mux.HandleFunc("GET "+clientPrefix+"/rooms/{room}/messages", h.authenticated(h.handleMessages))
	mux.HandleFunc("GET "+clientPrefix+"/sync", h.authenticated(h.handleSync))
	mux.HandleFunc("/", func(writer http.ResponseWriter, request *http.Request) {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeUnrecognized, "unrecognized request "+request.Method+" "+request.URL.Path)
	})
	return mux
}

type handlerFunc func(writer http.ResponseWriter, request *http.Request, user ref.UserID)

// authenticated checks the access token, resolves the acting user from
// the user_id parameter, counts writes, and applies the fault hook.
func (h *Homeserver) authenticated(next handlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer "+AccessToken {
			writeError(writer, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown access token")
			return
		}

		h.mu.Lock()
		if request.Method != http.MethodGet {
			h.writes++
		}
		fault := h.fault
		user := h.serviceUser
		var unknownUser bool
		if asserted := request.URL.Query().Get("user_id"); asserted != "" {
			parsed, err := ref.ParseUserID(asserted)
			if err != nil || !h.users[parsed] {
				unknownUser = true
			}
			user = parsed
		}
		h.mu.Unlock()

		if fault != nil {
			if matrixErr := fault(request); matrixErr != nil {
				status := matrixErr.StatusCode
				if status == 0 {
					status = http.StatusInternalServerError
				}
				writeError(writer, status, matrixErr.Code, matrixErr.Message)
				return
			}
		}
		if unknownUser {
			writeError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, "application service has not registered this user")
			return
		}
		next(writer, request, user)
	}
}

func (h *Homeserver) handleVersions(writer http.ResponseWriter, request *http.Request) {
	netutil.WriteJSON(writer, http.StatusOK, messaging.ServerVersionsResponse{Versions: []string{"v1.11"}})
}

func (h *Homeserver) handleLogin(writer http.ResponseWriter, request *http.Request) {
	var login messaging.LoginRequest
	if err := json.NewDecoder(request.Body).Decode(&login); err != nil {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}
	if h.password == "" || login.Password != h.password || login.User != h.serviceUser.Localpart() {
		writeError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, "invalid username or password")
		return
	}
	netutil.WriteJSON(writer, http.StatusOK, messaging.AuthResponse{
		UserID:      h.serviceUser,
		AccessToken: AccessToken,
		DeviceID:    "TESTDEVICE",
	})
}

func (h *Homeserver) handleWhoAmI(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	netutil.WriteJSON(writer, http.StatusOK, messaging.WhoAmIResponse{UserID: user, DeviceID: "TESTDEVICE"})
}

func (h *Homeserver) handleRegister(writer http.ResponseWriter, request *http.Request, _ ref.UserID) {
	var register messaging.RegisterUserRequest
	if err := json.NewDecoder(request.Body).Decode(&register); err != nil {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}
	if register.Type != "m.login.application_service" {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, "unsupported registration type "+register.Type)
		return
	}
	if register.Username == "" || ref.SanitizeLocalpart(register.Username) != register.Username {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, "invalid username")
		return
	}
	user := ref.MatrixUserID(register.Username, h.serverName)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[user] {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeUserInUse, "user ID already taken")
		return
	}
	h.users[user] = true
	netutil.WriteJSON(writer, http.StatusOK, map[string]string{"user_id": user.String()})
}

// createRoomBody mirrors messaging.CreateRoomRequest with raw content.
type createRoomBody struct {
	Name         string `json:"name"`
	Topic        string `json:"topic"`
	Alias        string `json:"room_alias_name"`
	InitialState []struct {
		Type     ref.EventType   `json:"type"`
		StateKey string          `json:"state_key"`
		Content  json.RawMessage `json:"content"`
	} `json:"initial_state"`
}

func (h *Homeserver) handleCreateRoom(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	var body createRoomBody
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var alias string
	if body.Alias != "" {
		alias = "#" + body.Alias + ":" + h.serverName.String()
		if _, taken := h.aliases[alias]; taken {
			writeError(writer, http.StatusBadRequest, messaging.ErrCodeRoomInUse, "room alias already taken")
			return
		}
	}

	r := h.newRoom(user)
	h.appendEvent(r, user, "m.room.member", ptr(user.String()), map[string]string{"membership": "join"})
	for _, state := range body.InitialState {
		h.appendEvent(r, user, state.Type, ptr(state.StateKey), state.Content)
	}
	h.applyRoomDetails(r, user, body.Name, body.Topic, alias)
	h.notify()
	netutil.WriteJSON(writer, http.StatusOK, messaging.CreateRoomResponse{RoomID: r.id})
}

func (h *Homeserver) handleJoin(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.lookupRoom(writer, request)
	if !ok {
		return
	}
	if !isJoined(r, user) {
		h.appendEvent(r, user, "m.room.member", ptr(user.String()), map[string]string{"membership": "join"})
		h.notify()
	}
	netutil.WriteJSON(writer, http.StatusOK, map[string]string{"room_id": r.id.String()})
}

func (h *Homeserver) handleDirectory(writer http.ResponseWriter, request *http.Request, _ ref.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.aliases[request.PathValue("alias")]
	if !ok {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "room alias not found")
		return
	}
	netutil.WriteJSON(writer, http.StatusOK, messaging.ResolveAliasResponse{
		RoomID:  roomID,
		Servers: []string{h.serverName.String()},
	})
}

func (h *Homeserver) handleRoomState(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.lookupJoinedRoom(writer, request, user)
	if !ok {
		return
	}
	netutil.WriteJSON(writer, http.StatusOK, sortedState(r))
}

func (h *Homeserver) handlePutState(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	var content json.RawMessage
	if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.lookupJoinedRoom(writer, request, user)
	if !ok {
		return
	}
	event := h.appendEvent(r, user, ref.EventType(request.PathValue("type")), ptr(request.PathValue("key")), content)
	h.notify()
	netutil.WriteJSON(writer, http.StatusOK, messaging.SendEventResponse{EventID: event.EventID})
}

func (h *Homeserver) handleSend(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	var content json.RawMessage
	if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeBadJSON, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.lookupJoinedRoom(writer, request, user)
	if !ok {
		return
	}
	transaction := user.String() + "/" + request.PathValue("txn")
	if eventID, seen := h.transactions[transaction]; seen {
		netutil.WriteJSON(writer, http.StatusOK, messaging.SendEventResponse{EventID: eventID})
		return
	}
	event := h.appendEvent(r, user, ref.EventType(request.PathValue("type")), nil, content)
	h.transactions[transaction] = event.EventID
	h.notify()
	netutil.WriteJSON(writer, http.StatusOK, messaging.SendEventResponse{EventID: event.EventID})
}

// handleMessages serves backward pagination. Tokens are "t<n>": the
// n oldest events remain to be returned.
func (h *Homeserver) handleMessages(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	query := request.URL.Query()
	if query.Get("dir") != "b" {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, "only dir=b is supported")
		return
	}
	limit := 10
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, "invalid limit")
			return
		}
		limit = parsed
	}
	var types []ref.EventType
	if raw := query.Get("filter"); raw != "" {
		var filter struct {
			Types []ref.EventType `json:"types"`
		}
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			writeError(writer, http.StatusBadRequest, messaging.ErrCodeBadJSON, "invalid filter")
			return
		}
		types = filter.Types
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.lookupJoinedRoom(writer, request, user)
	if !ok {
		return
	}

	position := len(r.timeline)
	if from := query.Get("from"); from != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(from, "t"))
		if err != nil || parsed < 0 || parsed > len(r.timeline) {
			writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, "invalid from token")
			return
		}
		position = parsed
	}

	response := messaging.RoomMessagesResponse{
		Start: fmt.Sprintf("t%d", position),
		Chunk: []messaging.Event{},
	}
	for position > 0 && len(response.Chunk) < limit {
		position--
		event := r.timeline[position]
		if len(types) > 0 && !slices.Contains(types, event.Type) {
			continue
		}
		response.Chunk = append(response.Chunk, event)
	}
	if position > 0 {
		response.End = fmt.Sprintf("t%d", position)
	}
	netutil.WriteJSON(writer, http.StatusOK, response)
}

// handleSync returns the full state of every joined room and the
// stripped state of pending invites. A sync whose since token is
// current long-polls until the next change or the timeout.
func (h *Homeserver) handleSync(writer http.ResponseWriter, request *http.Request, user ref.UserID) {
	query := request.URL.Query()
	since := query.Get("since")
	var timeout time.Duration
	if raw := query.Get("timeout"); raw != "" {
		milliseconds, err := strconv.Atoi(raw)
		if err != nil || milliseconds < 0 {
			writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, "invalid timeout")
			return
		}
		timeout = time.Duration(milliseconds) * time.Millisecond
	}

	h.mu.Lock()
	if since != "" && parseStream(since) == h.stream && timeout > 0 {
		changed := h.changed
		h.mu.Unlock()
		timer := time.NewTimer(timeout)
		select {
		case <-changed:
		case <-timer.C:
		case <-request.Context().Done():
		}
		timer.Stop()
		h.mu.Lock()
	}
	defer h.mu.Unlock()

	response := messaging.SyncResponse{
		NextBatch: fmt.Sprintf("s%d", h.stream),
		Rooms: messaging.RoomsSection{
			Join:   make(map[ref.RoomID]messaging.JoinedRoom),
			Invite: make(map[ref.RoomID]messaging.InvitedRoom),
		},
	}
	for _, r := range h.rooms {
		switch membership(r, user) {
		case "join":
			response.Rooms.Join[r.id] = messaging.JoinedRoom{
				State:    messaging.StateSection{Events: sortedState(r)},
				Timeline: messaging.TimelineSection{Events: []messaging.Event{}},
			}
		case "invite":
			response.Rooms.Invite[r.id] = messaging.InvitedRoom{
				InviteState: messaging.StateSection{Events: sortedState(r)},
			}
		}
	}
	netutil.WriteJSON(writer, http.StatusOK, response)
}

// lookupRoom requires h.mu.
func (h *Homeserver) lookupRoom(writer http.ResponseWriter, request *http.Request) (*room, bool) {
	roomID, err := ref.ParseRoomID(request.PathValue("room"))
	if err != nil {
		writeError(writer, http.StatusBadRequest, messaging.ErrCodeInvalidParam, err.Error())
		return nil, false
	}
	r, ok := h.rooms[roomID]
	if !ok {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "unknown room")
		return nil, false
	}
	return r, true
}

// lookupJoinedRoom requires h.mu.
func (h *Homeserver) lookupJoinedRoom(writer http.ResponseWriter, request *http.Request, user ref.UserID) (*room, bool) {
	r, ok := h.lookupRoom(writer, request)
	if !ok {
		return nil, false
	}
	if !isJoined(r, user) {
		writeError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, user.String()+" is not in room "+r.id.String())
		return nil, false
	}
	return r, true
}

func writeError(writer http.ResponseWriter, status int, code, message string) {
	netutil.WriteJSON(writer, status, messaging.MatrixError{Code: code, Message: message})
}
