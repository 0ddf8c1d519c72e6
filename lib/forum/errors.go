// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import "errors"

// Not found.
var (
	ErrUnknownCategory     = errors.New("forum: unknown category")
	ErrUnknownPost         = errors.New("forum: unknown post")
	ErrUnknownCategoryRoom = errors.New("forum: category room is not joined")
	ErrUnknownToplevelRoom = errors.New("forum: top-level space room is not joined")
)

// Malformed input or malformed category rooms.
var (
	ErrUnknownCategoryTitle = errors.New("forum: category room has no name")
	ErrUnknownCategoryTopic = errors.New("forum: category room has no topic")
	ErrInvalidCategoryAlias = errors.New("forum: category room has no #forum-<slug> canonical alias")
	ErrBlankTitle           = errors.New("forum: title is blank")
	ErrBlankTopic           = errors.New("forum: topic is blank")
	ErrBlankContent         = errors.New("forum: content is blank")
)

// Authentication.
var (
	ErrInvalidLoginCredential = errors.New("forum: invalid username or password")
	ErrInvalidAccessToken     = errors.New("forum: invalid or expired access token")
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindAuthentication Kind = "authentication"
	// KindInternal covers backend, transport and decoding failures.
	// Their detail is logged, never shown to the caller.
	KindInternal Kind = "internal"
)

var kinds = []struct {
	kind     Kind
	sentinel error
}{
	{KindNotFound, ErrUnknownCategory},
	{KindNotFound, ErrUnknownPost},
	{KindNotFound, ErrUnknownCategoryRoom},
	{KindNotFound, ErrUnknownToplevelRoom},
	{KindInvalidInput, ErrUnknownCategoryTitle},
	{KindInvalidInput, ErrUnknownCategoryTopic},
	{KindInvalidInput, ErrInvalidCategoryAlias},
	{KindInvalidInput, ErrBlankTitle},
	{KindInvalidInput, ErrBlankTopic},
	{KindInvalidInput, ErrBlankContent},
	{KindAuthentication, ErrInvalidLoginCredential},
	{KindAuthentication, ErrInvalidAccessToken},
}

// KindOf returns the kind of the first sentinel err wraps, or
// KindInternal.
func KindOf(err error) Kind {
	for _, entry := range kinds {
		if errors.Is(err, entry.sentinel) {
			return entry.kind
		}
	}
	return KindInternal
}
