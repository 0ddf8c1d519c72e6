// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/morum/lib/alias"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/richtext"
	"github.com/bureau-foundation/morum/lib/roomcache"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/messaging"
)

// Step names one backend operation of a mutation.
type Step string

const (
	StepCreateRoom     Step = "create_room"
	StepAssignCategory Step = "assign_category"
	StepLinkSpace      Step = "link_space"
	StepRegisterAuthor Step = "register_author"
	StepJoinAuthor     Step = "join_author"
	StepSendMessage    Step = "send_message"
	StepJoinRoom       Step = "join_room"
)

// MutationResult describes what a mutation did. On failure it holds
// whatever was known when the failing step ran.
type MutationResult struct {
	PostID    uint64
	RoomID    ref.RoomID
	EventID   ref.EventID
	Completed []Step
}

// StepError reports the step a mutation failed at. Steps in Completed
// took effect and are not rolled back: a post whose StepAssignCategory
// failed exists without a category until SetCategory is run for it.
type StepError struct {
	Step      Step
	Completed []Step
	Err       error
}

func (e *StepError) Error() string {
	if len(e.Completed) == 0 {
		return fmt.Sprintf("forum: %s: %v", e.Step, e.Err)
	}
	completed := make([]string, len(e.Completed))
	for i, step := range e.Completed {
		completed[i] = string(step)
	}
	return fmt.Sprintf("forum: %s (after %s): %v", e.Step, strings.Join(completed, ", "), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// maxAllocationAttempts bounds how many successive post IDs NewPost
// tries when another writer has taken the one it allocated.
const maxAllocationAttempts = 5

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Session    messaging.Session
	Cache      *roomcache.Cache
	Codec      *alias.Codec
	Classifier *Classifier
	Catalog    Catalog

	// Appservice registers comment authors as Matrix users in the
	// application service namespace and posts as them. Without it
	// every message is sent by the service account.
	Appservice bool

	// VisibilityTimeout bounds how long NewPost waits for the room
	// cache to contain the new post. Zero means 10 seconds; negative
	// disables the wait.
	VisibilityTimeout time.Duration

	Logger *slog.Logger
}

// Pipeline performs forum writes.
type Pipeline struct {
	session           messaging.Session
	cache             *roomcache.Cache
	codec             *alias.Codec
	classifier        *Classifier
	catalog           Catalog
	appservice        bool
	visibilityTimeout time.Duration
	logger            *slog.Logger

	// allocation serializes post ID allocation through room creation
	// and the visibility wait.
	allocation sync.Mutex
}

// NewPipeline returns a Pipeline.
func NewPipeline(config PipelineConfig) *Pipeline {
	pipeline := &Pipeline{
		session:           config.Session,
		cache:             config.Cache,
		codec:             config.Codec,
		classifier:        config.Classifier,
		catalog:           config.Catalog,
		appservice:        config.Appservice,
		visibilityTimeout: config.VisibilityTimeout,
		logger:            config.Logger,
	}
	if pipeline.visibilityTimeout == 0 {
		pipeline.visibilityTimeout = 10 * time.Second
	}
	if pipeline.logger == nil {
		pipeline.logger = slog.Default()
	}
	return pipeline
}

// NewPostInput is a post to create.
type NewPostInput struct {
	Author   string
	Title    string
	Topic    string
	Markdown string
	Category *string

	// MutationID makes retries of the same post's first comment
	// idempotent. Empty generates a fresh one.
	MutationID string
}

// NewCommentInput is a comment to add.
type NewCommentInput struct {
	Author     string
	PostID     uint64
	Markdown   string
	MutationID string
}

// NewPost creates a post room and sends its first comment. Title,
// topic and markdown must be non-blank and the category must exist;
// nothing is written otherwise.
func (p *Pipeline) NewPost(ctx context.Context, input NewPostInput) (MutationResult, error) {
	title := strings.TrimSpace(input.Title)
	topic := strings.TrimSpace(input.Topic)
	switch {
	case title == "":
		return MutationResult{}, ErrBlankTitle
	case topic == "":
		return MutationResult{}, ErrBlankTopic
	case strings.TrimSpace(input.Markdown) == "":
		return MutationResult{}, ErrBlankContent
	}
	html, err := richtext.RenderMarkdown(input.Markdown)
	if err != nil {
		return MutationResult{}, fmt.Errorf("forum: rendering post body: %w", err)
	}
	assignment := normalizeCategory(input.Category)
	category, _, err := p.catalog.Lookup(ctx, FormatCategoryID(assignment))
	if err != nil {
		return MutationResult{}, err
	}

	p.allocation.Lock()
	defer p.allocation.Unlock()

	rooms, err := p.classifier.ValidRooms(ctx)
	if err != nil {
		return MutationResult{}, fmt.Errorf("forum: listing posts: %w", err)
	}

	var result MutationResult
	result.PostID, result.RoomID, err = p.createPostRoom(ctx, maxPostID(rooms)+1, title, topic)
	if err != nil {
		return result, p.fail(StepCreateRoom, &result, err)
	}
	result.Completed = append(result.Completed, StepCreateRoom)

	_, err = p.session.SendStateEvent(ctx, result.RoomID, schema.EventTypeCategory, "", schema.NewCategoryContent(assignment))
	if err != nil {
		return result, p.fail(StepAssignCategory, &result, err)
	}
	result.Completed = append(result.Completed, StepAssignCategory)

	if !category.RoomID.IsZero() {
		if err := p.linkChild(ctx, category.RoomID, result.RoomID); err != nil {
			return result, p.fail(StepLinkSpace, &result, err)
		}
		result.Completed = append(result.Completed, StepLinkSpace)
	}

	if err := p.sendComment(ctx, &result, input.Author, input.Markdown, html, input.MutationID); err != nil {
		return result, err
	}

	p.logger.Info("post created",
		"post_id", result.PostID,
		"room_id", result.RoomID,
		"category", FormatCategoryID(assignment),
		"author", input.Author,
	)
	p.waitVisible(ctx, result.RoomID)
	return result, nil
}

// createPostRoom creates the room for post id, moving on to the next
// ID when the alias is already taken.
func (p *Pipeline) createPostRoom(ctx context.Context, id uint64, title, topic string) (uint64, ref.RoomID, error) {
	for attempt := 0; ; attempt++ {
		response, err := p.session.CreateRoom(ctx, messaging.CreateRoomRequest{
			Name:   title,
			Topic:  topic,
			Alias:  p.codec.PostLocalpart(id),
			Preset: "public_chat",
		})
		if err == nil {
			return id, response.RoomID, nil
		}
		if !messaging.IsMatrixError(err, messaging.ErrCodeRoomInUse) || attempt+1 >= maxAllocationAttempts {
			return id, ref.RoomID{}, err
		}
		p.logger.Warn("post alias already taken, allocating the next ID", "post_id", id)
		id++
	}
}

// NewComment adds a comment to an existing post.
func (p *Pipeline) NewComment(ctx context.Context, input NewCommentInput) (MutationResult, error) {
	if strings.TrimSpace(input.Markdown) == "" {
		return MutationResult{}, ErrBlankContent
	}
	html, err := richtext.RenderMarkdown(input.Markdown)
	if err != nil {
		return MutationResult{}, fmt.Errorf("forum: rendering comment: %w", err)
	}

	rooms, err := p.classifier.ValidRooms(ctx)
	if err != nil {
		return MutationResult{}, fmt.Errorf("forum: listing posts: %w", err)
	}
	index := slices.IndexFunc(rooms, func(room schema.Room) bool { return room.PostID == input.PostID })
	if index < 0 {
		return MutationResult{}, fmt.Errorf("%w: %d", ErrUnknownPost, input.PostID)
	}

	result := MutationResult{PostID: input.PostID, RoomID: rooms[index].RoomID}
	if err := p.sendComment(ctx, &result, input.Author, input.Markdown, html, input.MutationID); err != nil {
		return result, err
	}
	return result, nil
}

// sendComment runs the author steps and sends the message.
func (p *Pipeline) sendComment(ctx context.Context, result *MutationResult, author, markdown, html, mutationID string) error {
	sender := p.session
	if p.appservice {
		if _, err := p.session.RegisterUser(ctx, alias.UserLocalpart(author)); err != nil {
			return p.fail(StepRegisterAuthor, result, err)
		}
		result.Completed = append(result.Completed, StepRegisterAuthor)

		sender = p.session.AsUser(p.codec.UserID(author))
		if _, err := sender.JoinRoom(ctx, result.RoomID); err != nil {
			return p.fail(StepJoinAuthor, result, err)
		}
		result.Completed = append(result.Completed, StepJoinAuthor)
	}

	if mutationID == "" {
		mutationID = newMutationID()
	}
	eventID, err := sender.SendEventWithTransaction(ctx, result.RoomID, schema.EventTypeRoomMessage,
		transactionID(result.RoomID, sender.UserID(), markdown, mutationID),
		messaging.NewHTMLMessage(markdown, html))
	if err != nil {
		return p.fail(StepSendMessage, result, err)
	}
	result.EventID = eventID
	result.Completed = append(result.Completed, StepSendMessage)
	return nil
}

// SetCategory overwrites the category of the room behind roomAlias. A
// non-nil category must exist in the catalog.
func (p *Pipeline) SetCategory(ctx context.Context, roomAlias ref.RoomAlias, category *string) (MutationResult, error) {
	category = normalizeCategory(category)
	if category != nil {
		if _, _, err := p.catalog.Lookup(ctx, *category); err != nil {
			return MutationResult{}, err
		}
	}
	roomID, err := p.resolve(ctx, roomAlias, ErrUnknownPost)
	if err != nil {
		return MutationResult{}, err
	}
	result := MutationResult{RoomID: roomID}
	if id, ok := p.codec.DecodePost(roomAlias.String()); ok {
		result.PostID = id
	}
	if _, err := p.session.SendStateEvent(ctx, roomID, schema.EventTypeCategory, "", schema.NewCategoryContent(category)); err != nil {
		return result, p.fail(StepAssignCategory, &result, err)
	}
	result.Completed = append(result.Completed, StepAssignCategory)
	p.logger.Info("category assigned", "room_id", roomID, "alias", roomAlias, "category", FormatCategoryID(category))
	return result, nil
}

// LinkRoom joins child, given as a room ID or alias, and lists it as a
// child of the joined room behind parent. Linking a category room under
// the #forum space publishes it as a category; linking a post room under
// a category room makes it browsable from Matrix clients.
func (p *Pipeline) LinkRoom(ctx context.Context, parent ref.RoomAlias, child string) (MutationResult, error) {
	parentID, err := p.resolve(ctx, parent, ErrUnknownCategoryRoom)
	if err != nil {
		return MutationResult{}, err
	}
	snapshot, err := p.cache.WaitReady(ctx)
	if err != nil {
		return MutationResult{}, err
	}
	if !snapshot.Joined(parentID) {
		return MutationResult{}, fmt.Errorf("%w: %s (%s)", ErrUnknownCategoryRoom, parent, parentID)
	}

	var result MutationResult
	if strings.HasPrefix(child, "#") {
		childAlias, err := ref.ParseRoomAlias(child)
		if err != nil {
			return result, fmt.Errorf("forum: %w", err)
		}
		result.RoomID, err = p.resolve(ctx, childAlias, ErrUnknownPost)
		if err != nil {
			return result, err
		}
	} else {
		result.RoomID, err = ref.ParseRoomID(child)
		if err != nil {
			return result, fmt.Errorf("forum: %w", err)
		}
	}

	if _, err := p.session.JoinRoom(ctx, result.RoomID); err != nil {
		return result, p.fail(StepJoinRoom, &result, err)
	}
	result.Completed = append(result.Completed, StepJoinRoom)

	if err := p.linkChild(ctx, parentID, result.RoomID); err != nil {
		return result, p.fail(StepLinkSpace, &result, err)
	}
	result.Completed = append(result.Completed, StepLinkSpace)
	p.logger.Info("room linked", "parent", parent, "parent_id", parentID, "child", result.RoomID)
	return result, nil
}

func (p *Pipeline) linkChild(ctx context.Context, parent, child ref.RoomID) error {
	_, err := p.session.SendStateEvent(ctx, parent, schema.EventTypeSpaceChild, child.String(),
		schema.SpaceChildContent{Via: []string{p.codec.Server().String()}})
	return err
}

// resolve maps an alias to a room ID, preferring the room cache.
// Unknown aliases wrap notFound.
func (p *Pipeline) resolve(ctx context.Context, roomAlias ref.RoomAlias, notFound error) (ref.RoomID, error) {
	if p.cache != nil {
		if roomID, ok := p.cache.Snapshot().RoomByAlias(roomAlias); ok {
			return roomID, nil
		}
	}
	roomID, err := p.session.ResolveAlias(ctx, roomAlias)
	if messaging.IsNotFound(err) {
		return ref.RoomID{}, fmt.Errorf("%w: %s", notFound, roomAlias)
	}
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("forum: resolving %s: %w", roomAlias, err)
	}
	return roomID, nil
}

// waitVisible blocks until the room cache holds the new post's category
// state, so that a read following NewPost lists the post. Timing out
// is logged, not returned: the post exists either way.
func (p *Pipeline) waitVisible(ctx context.Context, roomID ref.RoomID) {
	if p.cache == nil || p.visibilityTimeout < 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.visibilityTimeout)
	defer cancel()
	if _, err := p.cache.WaitFor(waitCtx, roomcache.HasCategoryState(roomID)); err != nil {
		p.logger.Warn("new post not yet visible in the room cache",
			"room_id", roomID,
			"timeout", p.visibilityTimeout,
			"error", err,
		)
	}
}

// normalizeCategory maps the "uncategorized" token to the nil
// assignment so it is never stored literally.
func normalizeCategory(category *string) *string {
	return ParseCategoryID(FormatCategoryID(category))
}

func (p *Pipeline) fail(step Step, result *MutationResult, err error) error {
	stepErr := &StepError{Step: step, Completed: slices.Clone(result.Completed), Err: err}
	if len(result.Completed) > 0 {
		p.logger.Error("mutation partially applied",
			"step", step,
			"completed", result.Completed,
			"post_id", result.PostID,
			"room_id", result.RoomID,
			"error", err,
		)
	}
	return stepErr
}

// transactionID derives the Matrix transaction ID of a comment, so a
// retried mutation with the same ID is deduplicated by the homeserver.
func transactionID(roomID ref.RoomID, sender ref.UserID, body, mutationID string) string {
	hasher := blake3.New()
	for _, field := range []string{roomID.String(), sender.String(), body, mutationID} {
		hasher.Write([]byte(field))
		hasher.Write([]byte{0})
	}
	return "morum-" + hex.EncodeToString(hasher.Sum(nil)[:16])
}

func newMutationID() string {
	var buffer [16]byte
	rand.Read(buffer[:])
	return hex.EncodeToString(buffer[:])
}
