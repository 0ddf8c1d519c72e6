// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package alias is the single place that formats and parses the room
// aliases carrying forum identity:
//
//	#forum:<server>              the top-level space
//	#forum-<slug>:<server>       a category room
//	#forum_post_<n>:<server>     post n
//
// Patterns are anchored at both ends and bound to one server name, so a
// foreign alias or an alias with trailing characters never decodes.
package alias

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/bureau-foundation/morum/lib/ref"
)

const (
	spaceLocalpart = "forum"
	categoryPrefix = "forum-"
	postPrefix     = "forum_post_"
	userPrefix     = "forum_user_"
)

// Codec encodes and decodes forum aliases for one homeserver.
type Codec struct {
	server   ref.ServerName
	post     *regexp.Regexp
	category *regexp.Regexp
}

// New returns a Codec for server.
func New(server ref.ServerName) (*Codec, error) {
	if server.IsZero() {
		return nil, fmt.Errorf("alias: server name is required")
	}
	quoted := regexp.QuoteMeta(server.String())
	return &Codec{
		server:   server,
		post:     regexp.MustCompile(`^#` + postPrefix + `(\d+):` + quoted + `$`),
		category: regexp.MustCompile(`^#` + categoryPrefix + `(.+):` + quoted + `$`),
	}, nil
}

// Server returns the server name aliases are bound to.
func (c *Codec) Server() ref.ServerName { return c.server }

// Space returns the alias of the top-level forum space.
func (c *Codec) Space() ref.RoomAlias {
	return c.mustAlias(spaceLocalpart)
}

// PostLocalpart returns the alias localpart for post id, as passed to
// room creation.
func (c *Codec) PostLocalpart(id uint64) string {
	return postPrefix + strconv.FormatUint(id, 10)
}

// EncodePost returns the alias for post id.
func (c *Codec) EncodePost(id uint64) ref.RoomAlias {
	return c.mustAlias(c.PostLocalpart(id))
}

// DecodePost extracts the post id from a post alias. It reports false
// for any other alias, including ids that overflow uint64.
func (c *Codec) DecodePost(alias string) (uint64, bool) {
	match := c.post.FindStringSubmatch(alias)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EncodeCategory returns the alias for the category room with slug.
func (c *Codec) EncodeCategory(slug string) (ref.RoomAlias, error) {
	if slug == "" {
		return ref.RoomAlias{}, fmt.Errorf("alias: category slug is empty")
	}
	return ref.NewRoomAlias(categoryPrefix+slug, c.server)
}

// DecodeCategory extracts the slug from a category room alias.
func (c *Codec) DecodeCategory(alias string) (string, bool) {
	match := c.category.FindStringSubmatch(alias)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// UserLocalpart returns the Matrix localpart for the forum account of
// username.
func UserLocalpart(username string) string {
	return userPrefix + ref.SanitizeLocalpart(username)
}

// UserID returns the Matrix user ID for the forum account of username.
func (c *Codec) UserID(username string) ref.UserID {
	return ref.MatrixUserID(UserLocalpart(username), c.server)
}

func (c *Codec) mustAlias(localpart string) ref.RoomAlias {
	alias, err := ref.NewRoomAlias(localpart, c.server)
	if err != nil {
		// Unreachable: localpart is built from constants and digits and
		// the server name was validated.
		panic(fmt.Sprintf("alias: building %q: %v", localpart, err))
	}
	return alias
}
