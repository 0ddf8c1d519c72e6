// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstate

import (
	"encoding/json"
	"testing"

	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/messaging"
)

func stateEvent(eventType, stateKey, content string) messaging.Event {
	return messaging.Event{
		EventID:  ref.MustParseEventID("$" + eventType + stateKey),
		Type:     ref.EventType(eventType),
		Sender:   ref.MustParseUserID("@forum:example.org"),
		StateKey: &stateKey,
		Content:  json.RawMessage(content),
	}
}

func redacted(event messaging.Event) messaging.Event {
	event.Content = json.RawMessage(`{}`)
	event.Unsigned = &messaging.EventUnsigned{RedactedBecause: json.RawMessage(`{"type":"m.room.redaction"}`)}
	return event
}

func TestName(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		want   string
		wantOK bool
	}{
		{"present", State{stateEvent("m.room.name", "", `{"name":"Hello"}`)}, "Hello", true},
		{"absent", State{stateEvent("m.room.topic", "", `{"topic":"x"}`)}, "", false},
		{"first wins", State{stateEvent("m.room.name", "", `{"name":"A"}`), stateEvent("m.room.name", "", `{"name":"B"}`)}, "A", true},
		{"wrong state key ignored", State{stateEvent("m.room.name", "x", `{"name":"A"}`)}, "", false},
		{"redacted", State{redacted(stateEvent("m.room.name", "", `{"name":"A"}`))}, "", false},
		{"unparseable", State{stateEvent("m.room.name", "", `{"name":42}`)}, "", false},
		{"empty", State{stateEvent("m.room.name", "", `{"name":""}`)}, "", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := test.state.Name()
			if got != test.want || ok != test.wantOK {
				t.Errorf("Name() = %q, %v; want %q, %v", got, ok, test.want, test.wantOK)
			}
		})
	}
}

func TestTopic(t *testing.T) {
	state := State{stateEvent("m.room.topic", "", `{"topic":"Say hi"}`)}
	if topic, ok := state.Topic(); !ok || topic != "Say hi" {
		t.Errorf("Topic() = %q, %v", topic, ok)
	}
	if _, ok := (State{}).Topic(); ok {
		t.Error("Topic() present on empty state")
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  *string
	}{
		{"absent", State{}, nil},
		{"explicit none", State{stateEvent("org.corepaper.morum.category", "", `{"category":""}`)}, nil},
		{"assigned", State{stateEvent("org.corepaper.morum.category", "", `{"category":"general"}`)}, ptr("general")},
		{"malformed", State{stateEvent("org.corepaper.morum.category", "", `{"category":["general"]}`)}, nil},
		{"redacted", State{redacted(stateEvent("org.corepaper.morum.category", "", `{"category":"general"}`))}, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.state.Category()
			if (got == nil) != (test.want == nil) || (got != nil && *got != *test.want) {
				t.Errorf("Category() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestAliases(t *testing.T) {
	state := State{stateEvent("m.room.canonical_alias", "",
		`{"alias":"#forum_post_3:example.org","alt_aliases":["#old:example.org",""]}`)}
	aliases := state.Aliases()
	if len(aliases) != 2 || aliases[0] != "#forum_post_3:example.org" || aliases[1] != "#old:example.org" {
		t.Errorf("Aliases() = %v", aliases)
	}
	if aliases := (State{}).Aliases(); aliases != nil {
		t.Errorf("Aliases() on empty state = %v", aliases)
	}
}

func TestSpaceChildren(t *testing.T) {
	state := State{
		stateEvent("m.space.child", "!general:example.org", `{"via":["example.org"]}`),
		stateEvent("m.space.child", "!removed:example.org", `{}`),
		stateEvent("m.space.child", "not-a-room", `{"via":["example.org"]}`),
		stateEvent("m.space.child", "!meta:example.org", `{"via":["example.org"]}`),
		stateEvent("m.space.child", "!general:example.org", `{"via":["example.org"]}`),
	}
	children := state.SpaceChildren()
	if len(children) != 2 {
		t.Fatalf("SpaceChildren() = %v, want 2 rooms", children)
	}
	if children[0].String() != "!general:example.org" || children[1].String() != "!meta:example.org" {
		t.Errorf("SpaceChildren() = %v", children)
	}
}

func ptr(value string) *string { return &value }
