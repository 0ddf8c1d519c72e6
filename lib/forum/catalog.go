// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"context"
	"fmt"
	"slices"

	"github.com/bureau-foundation/morum/lib/alias"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/roomcache"
	"github.com/bureau-foundation/morum/lib/roomstate"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/messaging"
)

// Catalog supplies the category tree.
type Catalog interface {
	// Categories returns every category in display order.
	Categories(ctx context.Context) ([]schema.Category, error)

	// Lookup finds the subcategory with the given identifier, as
	// produced by FormatCategoryID, and the category containing it.
	// Returns ErrUnknownCategory when nothing matches.
	Lookup(ctx context.Context, id string) (schema.Category, schema.Subcategory, error)
}

// ParseCategoryID converts an identifier from a URL or request to a
// category assignment. "uncategorized" is the nil assignment.
func ParseCategoryID(id string) *string {
	if id == schema.UncategorizedID {
		return nil
	}
	return &id
}

// FormatCategoryID is the inverse of ParseCategoryID.
func FormatCategoryID(category *string) string {
	if category == nil {
		return schema.UncategorizedID
	}
	return *category
}

// StaticCatalog serves categories from configuration.
type StaticCatalog struct {
	categories []schema.Category
}

// NewStaticCatalog returns a catalog over categories. The slice is
// copied.
func NewStaticCatalog(categories []schema.Category) *StaticCatalog {
	return &StaticCatalog{categories: cloneCategories(categories)}
}

// Categories returns a copy callers may modify.
func (c *StaticCatalog) Categories(context.Context) ([]schema.Category, error) {
	return cloneCategories(c.categories), nil
}

func cloneCategories(categories []schema.Category) []schema.Category {
	cloned := make([]schema.Category, len(categories))
	for i, category := range categories {
		category.Subcategories = slices.Clone(category.Subcategories)
		for j, subcategory := range category.Subcategories {
			if subcategory.ID != nil {
				id := *subcategory.ID
				category.Subcategories[j].ID = &id
			}
		}
		cloned[i] = category
	}
	return cloned
}

func (c *StaticCatalog) Lookup(_ context.Context, id string) (schema.Category, schema.Subcategory, error) {
	want := ParseCategoryID(id)
	for _, category := range c.categories {
		for j, subcategory := range category.Subcategories {
			if subcategory.Matches(want) {
				category = cloneCategories([]schema.Category{category})[0]
				return category, category.Subcategories[j], nil
			}
		}
	}
	return schema.Category{}, schema.Subcategory{}, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
}

// SpaceCatalog discovers categories as the child rooms of the #forum
// space. Each child must be joined and carry a name, a topic and a
// #forum-<slug> alias; a child missing any of them fails the whole
// listing, since it is an operator error rather than user content.
//
// Every category has a single subcategory whose identifier is the
// slug. Posts without a category are listed under an extra
// "uncategorized" category that Lookup resolves but Categories omits.
type SpaceCatalog struct {
	cache   *roomcache.Cache
	codec   *alias.Codec
	session messaging.Session
}

// NewSpaceCatalog returns a catalog that reads rooms from cache and
// resolves the space alias through session when the cache does not
// know it.
func NewSpaceCatalog(cache *roomcache.Cache, codec *alias.Codec, session messaging.Session) *SpaceCatalog {
	return &SpaceCatalog{cache: cache, codec: codec, session: session}
}

// Uncategorized is the category SpaceCatalog returns for posts without
// a category.
var Uncategorized = schema.Category{
	Title:       "Uncategorized",
	Topic:       "Posts that have not been assigned a category.",
	RoomLocalID: schema.UncategorizedID,
	Subcategories: []schema.Subcategory{{
		Title: "Uncategorized",
		Topic: "Posts that have not been assigned a category.",
	}},
}

func (c *SpaceCatalog) Categories(ctx context.Context) ([]schema.Category, error) {
	snapshot, err := c.cache.WaitReady(ctx)
	if err != nil {
		return nil, err
	}
	spaceID, err := c.resolveSpace(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	state, _ := snapshot.State(spaceID)

	categories := []schema.Category{}
	for _, child := range state.SpaceChildren() {
		category, err := c.category(ctx, snapshot, child)
		if err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func (c *SpaceCatalog) Lookup(ctx context.Context, id string) (schema.Category, schema.Subcategory, error) {
	if ParseCategoryID(id) == nil {
		return Uncategorized, Uncategorized.Subcategories[0], nil
	}
	categories, err := c.Categories(ctx)
	if err != nil {
		return schema.Category{}, schema.Subcategory{}, err
	}
	for _, category := range categories {
		if category.RoomLocalID == id {
			return category, category.Subcategories[0], nil
		}
	}
	return schema.Category{}, schema.Subcategory{}, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
}

// Space returns the room ID of the #forum space.
func (c *SpaceCatalog) Space(ctx context.Context) (ref.RoomID, error) {
	snapshot, err := c.cache.WaitReady(ctx)
	if err != nil {
		return ref.RoomID{}, err
	}
	return c.resolveSpace(ctx, snapshot)
}

func (c *SpaceCatalog) resolveSpace(ctx context.Context, snapshot *roomcache.Snapshot) (ref.RoomID, error) {
	spaceAlias := c.codec.Space()
	spaceID, ok := snapshot.RoomByAlias(spaceAlias)
	if !ok {
		resolved, err := c.session.ResolveAlias(ctx, spaceAlias)
		if messaging.IsNotFound(err) {
			return ref.RoomID{}, fmt.Errorf("%w: %s does not exist", ErrUnknownToplevelRoom, spaceAlias)
		}
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("forum: resolving %s: %w", spaceAlias, err)
		}
		spaceID = resolved
	}
	if !snapshot.Joined(spaceID) {
		return ref.RoomID{}, fmt.Errorf("%w: %s (%s)", ErrUnknownToplevelRoom, spaceAlias, spaceID)
	}
	return spaceID, nil
}

// category reads one child of the space. A child the snapshot does not
// hold yet, such as a room joined after the last sync, is read from the
// homeserver's /state instead.
func (c *SpaceCatalog) category(ctx context.Context, snapshot *roomcache.Snapshot, roomID ref.RoomID) (schema.Category, error) {
	state, ok := snapshot.State(roomID)
	if !ok {
		events, err := c.session.GetRoomState(ctx, roomID)
		if messaging.IsNotFound(err) || messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
			return schema.Category{}, fmt.Errorf("%w: %s", ErrUnknownCategoryRoom, roomID)
		}
		if err != nil {
			return schema.Category{}, fmt.Errorf("forum: reading category room %s: %w", roomID, err)
		}
		state = roomstate.State(events)
	}
	title, ok := state.Name()
	if !ok {
		return schema.Category{}, fmt.Errorf("%w: %s", ErrUnknownCategoryTitle, roomID)
	}
	topic, ok := state.Topic()
	if !ok {
		return schema.Category{}, fmt.Errorf("%w: %s", ErrUnknownCategoryTopic, roomID)
	}
	var slug string
	for _, candidate := range state.Aliases() {
		if decoded, ok := c.codec.DecodeCategory(candidate); ok {
			slug = decoded
			break
		}
	}
	if slug == "" {
		return schema.Category{}, fmt.Errorf("%w: %s", ErrInvalidCategoryAlias, roomID)
	}
	return schema.Category{
		Title:       title,
		Topic:       topic,
		RoomLocalID: slug,
		RoomID:      roomID,
		Subcategories: []schema.Subcategory{{
			ID:    &slug,
			Title: title,
			Topic: topic,
		}},
	}, nil
}
