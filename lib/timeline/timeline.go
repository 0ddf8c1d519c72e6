// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline turns a post room's message history into the ordered
// comment list.
//
// The history is fetched newest-first and read in that order. An edit
// (an m.replace relation) never becomes an entry of its own: it stands
// for its target, and since the newest edit is seen first its
// replacement content is the one kept. Whenever a message id that is
// already collected is seen again it moves to the newest scan position,
// so once the original message itself has been read the entry sits
// where the original was written. Reversing the buffer at the end is
// the only ordering step.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/richtext"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/messaging"
)

// DefaultPageSize is the /messages page size. Pagination continues
// until the history is exhausted regardless of the page size.
const DefaultPageSize = 1000

// messageFilter restricts /messages to m.room.message events.
const messageFilter = `{"types":["m.room.message"]}`

// Config configures a Collator.
type Config struct {
	Session messaging.Session

	// PageSize overrides DefaultPageSize when positive.
	PageSize int

	Logger *slog.Logger
}

// Collator reads and collates post room timelines.
type Collator struct {
	session  messaging.Session
	pageSize int
	logger   *slog.Logger
}

// New returns a Collator.
func New(config Config) *Collator {
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collator{
		session:  config.Session,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Fetch returns every m.room.message event of the room, newest first.
func (c *Collator) Fetch(ctx context.Context, roomID ref.RoomID) ([]messaging.Event, error) {
	var events []messaging.Event
	from := ""
	for {
		response, err := c.session.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
			From:      from,
			Direction: "b",
			Limit:     c.pageSize,
			Filter:    messageFilter,
		})
		if err != nil {
			return nil, fmt.Errorf("timeline: fetching messages of %s: %w", roomID, err)
		}
		events = append(events, response.Chunk...)
		if len(response.Chunk) == 0 || response.End == "" || response.End == from {
			return events, nil
		}
		from = response.End
	}
}

// Comments fetches, collates and renders the comments of a room in
// chronological order.
func (c *Collator) Comments(ctx context.Context, roomID ref.RoomID) ([]schema.Comment, error) {
	events, err := c.Fetch(ctx, roomID)
	if err != nil {
		return nil, err
	}
	messages := Collate(events)
	comments := make([]schema.Comment, 0, len(messages))
	for _, message := range messages {
		comment, err := Render(message)
		if err != nil {
			c.logger.Warn("skipping unrenderable message",
				"room_id", roomID,
				"event_id", message.EventID,
				"error", err,
			)
			continue
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

// Message is a collated message: the content is the newest edit's
// replacement content, or the original content when never edited.
type Message struct {
	// EventID identifies the original message.
	EventID ref.EventID
	Sender  ref.UserID
	Content messaging.MessageContent
}

// Collate collapses edits in newestFirst and returns the surviving
// messages oldest first. Events that are not m.room.message, redacted
// events, undecodable content and message types other than m.text and
// m.notice are skipped. Redacting the original message removes the
// entry even when an unredacted edit of it exists.
func Collate(newestFirst []messaging.Event) []Message {
	var buffer []Message
	redacted := make(map[ref.EventID]bool)

	for _, event := range newestFirst {
		if event.Type != schema.EventTypeRoomMessage {
			continue
		}
		if event.IsRedacted() {
			redacted[event.EventID] = true
			continue
		}

		var content messaging.MessageContent
		if err := event.DecodeContent(&content); err != nil {
			continue
		}

		target := event.EventID
		isEdit := false
		if content.RelatesTo != nil && content.RelatesTo.RelType == messaging.RelTypeReplace {
			if content.RelatesTo.EventID.IsZero() || content.NewContent == nil {
				continue
			}
			target = content.RelatesTo.EventID
			content = *content.NewContent
			isEdit = true
		}
		if !commentType(content.MsgType) {
			continue
		}

		index := slices.IndexFunc(buffer, func(m Message) bool { return m.EventID == target })
		if index < 0 {
			buffer = append(buffer, Message{EventID: target, Sender: event.Sender, Content: content})
			continue
		}
		moved := buffer[index]
		buffer = slices.Delete(buffer, index, index+1)
		if !isEdit {
			moved.Sender = event.Sender
		}
		buffer = append(buffer, moved)
	}

	buffer = slices.DeleteFunc(buffer, func(m Message) bool { return redacted[m.EventID] })
	slices.Reverse(buffer)
	return buffer
}

func commentType(msgType string) bool {
	return msgType == messaging.MsgTypeText || msgType == messaging.MsgTypeNotice
}

// Render produces a comment from a collated message. HTML-formatted
// content is sanitized as is; anything else is treated as markdown.
func Render(message Message) (schema.Comment, error) {
	content := message.Content
	if content.Format == messaging.FormatHTML && content.FormattedBody != "" {
		return schema.Comment{
			HTML:   richtext.Sanitize(content.FormattedBody),
			Sender: message.Sender,
		}, nil
	}
	html, err := richtext.RenderMarkdown(content.Body)
	if err != nil {
		return schema.Comment{}, err
	}
	return schema.Comment{HTML: html, Sender: message.Sender}, nil
}
