// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import "github.com/bureau-foundation/morum/lib/schema"

// LoginRequest exchanges a forum username and password for an access
// token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the access token and its expiry in Unix
// seconds.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   uint64 `json:"expires_at"`
}

// CategoriesResponse lists the category tree.
type CategoriesResponse struct {
	Categories []schema.Category `json:"categories"`
}

// PostsRequest selects a subcategory. A nil CategoryID selects the
// uncategorized posts.
type PostsRequest struct {
	CategoryID *string `json:"category_id"`
}

// PostsResponse lists the posts of a subcategory, oldest first.
type PostsResponse struct {
	Category    schema.Category    `json:"category"`
	Subcategory schema.Subcategory `json:"subcategory"`
	Posts       []schema.Post      `json:"posts"`
}

// PostRequest selects a post.
type PostRequest struct {
	ID uint64 `json:"id"`
}

// PostResponse is a post and its comments in timeline order.
type PostResponse struct {
	Post     schema.Post      `json:"post"`
	Comments []schema.Comment `json:"comments"`
}

// NewCommentRequest adds a comment to a post. A client that retries
// after an ambiguous failure sends the same MutationID to avoid a
// duplicate comment.
type NewCommentRequest struct {
	AccessToken string `json:"access_token"`
	PostID      uint64 `json:"post_id"`
	Markdown    string `json:"markdown"`
	MutationID  string `json:"mutation_id,omitempty"`
}

// NewCommentResponse is empty on success.
type NewCommentResponse struct{}

// NewPostRequest creates a post. A nil CategoryID leaves the post
// uncategorized.
type NewPostRequest struct {
	AccessToken string  `json:"access_token"`
	Title       string  `json:"title"`
	Topic       string  `json:"topic"`
	Markdown    string  `json:"markdown"`
	CategoryID  *string `json:"category_id"`
	MutationID  string  `json:"mutation_id,omitempty"`
}

// NewPostResponse carries the ID of the created post.
type NewPostResponse struct {
	PostID uint64 `json:"post_id"`
}
