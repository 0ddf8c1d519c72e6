// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixtest

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/secret"
	"github.com/bureau-foundation/morum/messaging"
)

// AccessToken is the token every request must carry.
const AccessToken = "syt_test_service"

// Options configures a Homeserver.
type Options struct {
	// ServerName defaults to "test.local".
	ServerName string
	// ServiceLocalpart is the token owner's localpart. Default: "forum".
	ServiceLocalpart string
	// Password enables password login for the service account.
	Password string
}

// FaultFunc inspects a request and returns the error to answer it with,
// or nil to serve it normally.
type FaultFunc func(request *http.Request) *messaging.MatrixError

// Homeserver is an in-memory homeserver. All methods are safe for
// concurrent use.
type Homeserver struct {
	server      *httptest.Server
	serverName  ref.ServerName
	serviceUser ref.UserID
	password    string

	mu           sync.Mutex
	rooms        map[ref.RoomID]*room
	aliases      map[string]ref.RoomID
	users        map[ref.UserID]bool
	transactions map[string]ref.EventID
	writes       int
	nextID       int
	stream       int
	changed      chan struct{}
	fault        FaultFunc
}

type stateKey struct {
	eventType ref.EventType
	stateKey  string
}

type room struct {
	id       ref.RoomID
	state    map[stateKey]messaging.Event
	timeline []messaging.Event
}

// New starts a Homeserver that is shut down when the test ends.
func New(t *testing.T, options Options) *Homeserver {
	t.Helper()
	serverName := cmp.Or(options.ServerName, "test.local")
	localpart := cmp.Or(options.ServiceLocalpart, "forum")

	homeserver := &Homeserver{
		serverName:   ref.MustParseServerName(serverName),
		password:     options.Password,
		rooms:        make(map[ref.RoomID]*room),
		aliases:      make(map[string]ref.RoomID),
		users:        make(map[ref.UserID]bool),
		transactions: make(map[string]ref.EventID),
		changed:      make(chan struct{}),
	}
	homeserver.serviceUser = ref.MatrixUserID(localpart, homeserver.serverName)
	homeserver.users[homeserver.serviceUser] = true

	homeserver.server = httptest.NewServer(homeserver.routes())
	t.Cleanup(homeserver.server.Close)
	return homeserver
}

// URL returns the homeserver base URL.
func (h *Homeserver) URL() string { return h.server.URL }

// ServerName returns the server name of every ID the homeserver mints.
func (h *Homeserver) ServerName() ref.ServerName { return h.serverName }

// ServiceUser returns the user the access token belongs to.
func (h *Homeserver) ServiceUser() ref.UserID { return h.serviceUser }

// Session returns a messaging session authenticated as the service
// user, closed when the test ends.
func (h *Homeserver) Session(t *testing.T) *messaging.DirectSession {
	t.Helper()
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: h.URL(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("messaging.NewClient: %v", err)
	}
	token, err := secret.NewFromString(AccessToken)
	if err != nil {
		t.Fatalf("secret.NewFromString: %v", err)
	}
	session, err := client.SessionFromToken(h.serviceUser, token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// Writes returns the number of mutating API requests received
// (register, createRoom, join, state and message sends), including
// rejected ones.
func (h *Homeserver) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// SetFault installs fault, replacing any previous one. nil removes it.
func (h *Homeserver) SetFault(fault FaultFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fault = fault
}

// RoomSpec describes a room seeded with CreateRoom.
type RoomSpec struct {
	Name  string
	Topic string
	// Alias is a full alias ("#forum_post_1:test.local"), published as
	// the canonical alias.
	Alias string
	// Members join in addition to the service user.
	Members []ref.UserID
	// NotJoined leaves the service user out of the room.
	NotJoined bool
}

// CreateRoom seeds a room without counting a write.
func (h *Homeserver) CreateRoom(spec RoomSpec) ref.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()

	var members []ref.UserID
	if !spec.NotJoined {
		members = append(members, h.serviceUser)
	}
	members = append(members, spec.Members...)
	for _, member := range spec.Members {
		h.users[member] = true
	}

	r := h.newRoom(h.serviceUser)
	for _, member := range members {
		h.appendEvent(r, member, "m.room.member", ptr(member.String()), map[string]string{"membership": "join"})
	}
	h.applyRoomDetails(r, h.serviceUser, spec.Name, spec.Topic, spec.Alias)
	h.notify()
	return r.id
}

// SetState writes a state event without counting a write.
func (h *Homeserver) SetState(roomID ref.RoomID, eventType ref.EventType, key string, content any) ref.EventID {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.mustRoom(roomID)
	event := h.appendEvent(r, h.serviceUser, eventType, &key, content)
	h.notify()
	return event.EventID
}

// AddMessage appends a timeline event without counting a write.
func (h *Homeserver) AddMessage(roomID ref.RoomID, sender ref.UserID, content any) ref.EventID {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.mustRoom(roomID)
	event := h.appendEvent(r, sender, "m.room.message", nil, content)
	h.notify()
	return event.EventID
}

// Redact strips an event's content and marks it redacted.
func (h *Homeserver) Redact(roomID ref.RoomID, eventID ref.EventID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.mustRoom(roomID)
	for i, event := range r.timeline {
		if event.EventID != eventID {
			continue
		}
		event.Content = json.RawMessage(`{}`)
		event.Unsigned = &messaging.EventUnsigned{RedactedBecause: json.RawMessage(`{"type":"m.room.redaction"}`)}
		r.timeline[i] = event
	}
	h.notify()
}

// StateContent returns the content of a current state event.
func (h *Homeserver) StateContent(roomID ref.RoomID, eventType ref.EventType, key string) (json.RawMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	event, ok := r.state[stateKey{eventType, key}]
	if !ok {
		return nil, false
	}
	return event.Content, true
}

// Messages returns the room's m.room.message events, oldest first.
func (h *Homeserver) Messages(roomID ref.RoomID) []messaging.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	var messages []messaging.Event
	for _, event := range r.timeline {
		if event.Type == "m.room.message" {
			messages = append(messages, event)
		}
	}
	return messages
}

// ResolveAlias returns the room an alias points to.
func (h *Homeserver) ResolveAlias(alias string) (ref.RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.aliases[alias]
	return roomID, ok
}

// Joined reports whether user is joined to roomID.
func (h *Homeserver) Joined(roomID ref.RoomID, user ref.UserID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return ok && isJoined(r, user)
}

// Registered reports whether user exists.
func (h *Homeserver) Registered(user ref.UserID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users[user]
}

// Invite marks user as invited to roomID.
func (h *Homeserver) Invite(roomID ref.RoomID, user ref.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.mustRoom(roomID)
	h.appendEvent(r, h.serviceUser, "m.room.member", ptr(user.String()), map[string]string{"membership": "invite"})
	h.notify()
}

// The helpers below require h.mu.

func (h *Homeserver) newRoom(creator ref.UserID) *room {
	h.nextID++
	r := &room{
		id:    ref.MustParseRoomID(fmt.Sprintf("!room%04d:%s", h.nextID, h.serverName)),
		state: make(map[stateKey]messaging.Event),
	}
	h.rooms[r.id] = r
	h.appendEvent(r, creator, "m.room.create", ptr(""), map[string]string{"creator": creator.String()})
	return r
}

func (h *Homeserver) applyRoomDetails(r *room, sender ref.UserID, name, topic, alias string) {
	if name != "" {
		h.appendEvent(r, sender, "m.room.name", ptr(""), map[string]string{"name": name})
	}
	if topic != "" {
		h.appendEvent(r, sender, "m.room.topic", ptr(""), map[string]string{"topic": topic})
	}
	if alias != "" {
		h.aliases[alias] = r.id
		h.appendEvent(r, sender, "m.room.canonical_alias", ptr(""), map[string]string{"alias": alias})
	}
}

func (h *Homeserver) appendEvent(r *room, sender ref.UserID, eventType ref.EventType, key *string, content any) messaging.Event {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(fmt.Sprintf("matrixtest: marshal content: %v", err))
	}
	h.nextID++
	event := messaging.Event{
		EventID:        ref.MustParseEventID(fmt.Sprintf("$event%04d", h.nextID)),
		Type:           eventType,
		Sender:         sender,
		OriginServerTS: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli() + int64(h.nextID),
		Content:        raw,
		RoomID:         r.id,
		StateKey:       key,
	}
	r.timeline = append(r.timeline, event)
	if key != nil {
		r.state[stateKey{eventType, *key}] = event
	}
	return event
}

func (h *Homeserver) mustRoom(roomID ref.RoomID) *room {
	r, ok := h.rooms[roomID]
	if !ok {
		panic(fmt.Sprintf("matrixtest: unknown room %s", roomID))
	}
	return r
}

// notify advances the sync stream and wakes long-polling syncs.
func (h *Homeserver) notify() {
	h.stream++
	close(h.changed)
	h.changed = make(chan struct{})
}

func membership(r *room, user ref.UserID) string {
	event, ok := r.state[stateKey{"m.room.member", user.String()}]
	if !ok {
		return ""
	}
	var content struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(event.Content, &content); err != nil {
		return ""
	}
	return content.Membership
}

func isJoined(r *room, user ref.UserID) bool {
	return membership(r, user) == "join"
}

func sortedState(r *room) []messaging.Event {
	events := make([]messaging.Event, 0, len(r.state))
	for _, event := range r.state {
		events = append(events, event)
	}
	slices.SortFunc(events, func(a, b messaging.Event) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(*a.StateKey, *b.StateKey))
	})
	return events
}

func ptr(s string) *string { return &s }

func parseStream(token string) int {
	value, err := strconv.Atoi(strings.TrimPrefix(token, "s"))
	if err != nil {
		return -1
	}
	return value
}
