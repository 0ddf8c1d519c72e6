// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/morum/lib/accesstoken"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/messaging"
)

func TestNewPostThenListPosts(t *testing.T) {
	f := newFixture(t, fixtureOptions{appservice: true})
	f.start(t)
	ctx := testContext(t)

	created, err := f.service.NewPost(ctx, NewPostRequest{
		AccessToken: f.token(t, "alice"),
		Title:       "Hello",
		Topic:       "t",
		Markdown:    "**hi**",
		CategoryID:  ptr("general"),
	})
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}
	if created.PostID != 1 {
		t.Errorf("PostID = %d, want 1", created.PostID)
	}

	listed, err := f.service.Posts(ctx, PostsRequest{CategoryID: ptr("general")})
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(listed.Posts) != 1 || listed.Posts[0].Title != "Hello" || listed.Posts[0].ID != 1 {
		t.Fatalf("posts = %+v, want exactly Hello", listed.Posts)
	}
	if listed.Subcategory.ID == nil || *listed.Subcategory.ID != "general" || listed.Category.Title != "Discussion" {
		t.Errorf("listing for %+v / %+v, want Discussion / general", listed.Category, listed.Subcategory)
	}

	uncategorized, err := f.service.Posts(ctx, PostsRequest{})
	if err != nil {
		t.Fatalf("Posts(uncategorized): %v", err)
	}
	if len(uncategorized.Posts) != 0 {
		t.Errorf("uncategorized posts = %+v, want none", uncategorized.Posts)
	}

	post, err := f.service.Post(ctx, PostRequest{ID: 1})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(post.Comments) != 1 {
		t.Fatalf("comments = %+v, want one", post.Comments)
	}
	if !strings.Contains(post.Comments[0].HTML, "<strong>hi</strong>") {
		t.Errorf("comment HTML = %q, want rendered markdown", post.Comments[0].HTML)
	}
	if post.Comments[0].Sender != f.codec.UserID("alice") {
		t.Errorf("comment sender = %s, want %s", post.Comments[0].Sender, f.codec.UserID("alice"))
	}
}

func TestNewPostUncategorizedTokenStoresNoAssignment(t *testing.T) {
	f := newFixture(t, fixtureOptions{appservice: true})
	f.start(t)
	ctx := testContext(t)

	created, err := f.service.NewPost(ctx, NewPostRequest{
		AccessToken: f.token(t, "alice"),
		Title:       "Loose",
		Topic:       "t",
		Markdown:    "no home",
		CategoryID:  ptr(schema.UncategorizedID),
	})
	if err != nil {
		t.Fatalf("NewPost: %v", err)
	}

	roomID, ok := f.homeserver.ResolveAlias(f.codec.EncodePost(created.PostID).String())
	if !ok {
		t.Fatalf("post %d has no room", created.PostID)
	}
	raw, ok := f.homeserver.StateContent(roomID, schema.EventTypeCategory, "")
	if !ok {
		t.Fatal("category state was not written")
	}
	var content schema.CategoryContent
	if err := json.Unmarshal(raw, &content); err != nil {
		t.Fatalf("decoding category state: %v", err)
	}
	if content.Category != "" {
		t.Errorf("stored category = %q, want the empty assignment", content.Category)
	}

	for _, categoryID := range []*string{nil, ptr(schema.UncategorizedID)} {
		listed, err := f.service.Posts(ctx, PostsRequest{CategoryID: categoryID})
		if err != nil {
			t.Fatalf("Posts(%s): %v", FormatCategoryID(categoryID), err)
		}
		if len(listed.Posts) != 1 || listed.Posts[0].ID != created.PostID {
			t.Errorf("Posts(%s) = %+v, want post %d", FormatCategoryID(categoryID), listed.Posts, created.PostID)
		}
	}
}

func TestNewCommentBlankContentWritesNothing(t *testing.T) {
	f := newFixture(t, fixtureOptions{appservice: true})
	f.seedPost(1, "Hello", nil)
	f.start(t)
	token := f.token(t, "alice")

	before := f.homeserver.Writes()
	_, err := f.service.NewComment(testContext(t), NewCommentRequest{AccessToken: token, PostID: 1, Markdown: ""})
	if !errors.Is(err, ErrBlankContent) {
		t.Fatalf("NewComment error = %v, want ErrBlankContent", err)
	}
	if KindOf(err) != KindInvalidInput {
		t.Errorf("KindOf = %s, want %s", KindOf(err), KindInvalidInput)
	}
	if after := f.homeserver.Writes(); after != before {
		t.Errorf("blank comment made %d backend writes", after-before)
	}
}

func TestPostComments(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	roomID := f.seedPost(1, "Hello", nil)
	bob := f.codec.UserID("bob")
	f.homeserver.AddMessage(roomID, bob, messaging.NewTextMessage("plain *markdown*"))
	f.homeserver.AddMessage(roomID, bob, messaging.NewHTMLMessage("x", `<p>ok</p><script>alert(1)</script>`))
	edited := f.homeserver.AddMessage(roomID, bob, messaging.NewTextMessage("typo"))
	f.homeserver.AddMessage(roomID, bob, messaging.MessageContent{
		MsgType:    messaging.MsgTypeText,
		Body:       "* fixed",
		NewContent: &messaging.MessageContent{MsgType: messaging.MsgTypeText, Body: "fixed"},
		RelatesTo:  &messaging.RelatesTo{RelType: messaging.RelTypeReplace, EventID: edited},
	})
	retracted := f.homeserver.AddMessage(roomID, bob, messaging.NewTextMessage("regret"))
	f.homeserver.Redact(roomID, retracted)
	f.start(t)

	response, err := f.service.Post(testContext(t), PostRequest{ID: 1})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if response.Post.Title != "Hello" || response.Post.RoomID != roomID {
		t.Errorf("post = %+v", response.Post)
	}
	var html []string
	for _, comment := range response.Comments {
		html = append(html, comment.HTML)
		if comment.Sender != bob {
			t.Errorf("sender = %s, want %s", comment.Sender, bob)
		}
	}
	if len(html) != 3 {
		t.Fatalf("comments = %q, want 3 without the redacted one", html)
	}
	if !strings.Contains(html[0], "<em>markdown</em>") {
		t.Errorf("comment 0 = %q, want rendered markdown", html[0])
	}
	if strings.Contains(html[1], "<script") || !strings.Contains(html[1], "<p>ok</p>") {
		t.Errorf("comment 1 = %q, want sanitized HTML", html[1])
	}
	if !strings.Contains(html[2], "fixed") || strings.Contains(html[2], "typo") {
		t.Errorf("comment 2 = %q, want edited content", html[2])
	}
}

func TestPostUnknown(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.start(t)
	_, err := f.service.Post(testContext(t), PostRequest{ID: 42})
	if !errors.Is(err, ErrUnknownPost) || KindOf(err) != KindNotFound {
		t.Errorf("error = %v (kind %s), want ErrUnknownPost", err, KindOf(err))
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	tests := []struct {
		name     string
		request  LoginRequest
		wantFail bool
	}{
		{"valid", LoginRequest{Username: "alice", Password: testPassword}, false},
		{"wrong password", LoginRequest{Username: "alice", Password: "wrong"}, true},
		{"unknown user", LoginRequest{Username: "mallory", Password: testPassword}, true},
		{"empty", LoginRequest{}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response, err := f.service.Login(ctx, test.request)
			if test.wantFail {
				if !errors.Is(err, ErrInvalidLoginCredential) {
					t.Errorf("Login error = %v, want ErrInvalidLoginCredential", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			if response.AccessToken == "" {
				t.Error("empty access token")
			}
			want := uint64(f.clock.Now().Add(time.Hour).Unix())
			if response.ExpiresAt != want {
				t.Errorf("ExpiresAt = %d, want %d", response.ExpiresAt, want)
			}
		})
	}
}

func TestWritesRequireValidToken(t *testing.T) {
	f := newFixture(t, fixtureOptions{appservice: true})
	f.seedPost(1, "Hello", nil)
	f.start(t)
	token := f.token(t, "alice")
	ctx := testContext(t)

	tests := []struct {
		name    string
		token   string
		advance time.Duration
		cause   error
	}{
		{name: "missing"},
		{name: "garbage", token: "not-a-token", cause: accesstoken.ErrMalformed},
		{name: "tampered", token: tamper(token), cause: accesstoken.ErrInvalidSignature},
		{name: "expired", token: token, advance: time.Hour, cause: accesstoken.ErrExpired},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f.clock.Advance(test.advance)
			before := f.homeserver.Writes()
			_, err := f.service.NewComment(ctx, NewCommentRequest{AccessToken: test.token, PostID: 1, Markdown: "hi"})
			if !errors.Is(err, ErrInvalidAccessToken) || KindOf(err) != KindAuthentication {
				t.Errorf("NewComment error = %v, want ErrInvalidAccessToken", err)
			}
			if test.cause != nil && !errors.Is(err, test.cause) {
				t.Errorf("NewComment error = %v, want cause %v", err, test.cause)
			}
			_, err = f.service.NewPost(ctx, NewPostRequest{AccessToken: test.token, Title: "T", Topic: "t", Markdown: "m"})
			if !errors.Is(err, ErrInvalidAccessToken) {
				t.Errorf("NewPost error = %v, want ErrInvalidAccessToken", err)
			}
			if f.homeserver.Writes() != before {
				t.Error("unauthenticated write reached the backend")
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrUnknownPost, KindNotFound},
		{ErrUnknownCategory, KindNotFound},
		{ErrUnknownToplevelRoom, KindNotFound},
		{ErrBlankTitle, KindInvalidInput},
		{ErrInvalidCategoryAlias, KindInvalidInput},
		{ErrInvalidAccessToken, KindAuthentication},
		{ErrInvalidLoginCredential, KindAuthentication},
		{&StepError{Step: StepCreateRoom, Err: &messaging.MatrixError{Code: messaging.ErrCodeUnknown}}, KindInternal},
		{errors.New("connection refused"), KindInternal},
	}
	for _, test := range tests {
		if got := KindOf(test.err); got != test.want {
			t.Errorf("KindOf(%v) = %s, want %s", test.err, got, test.want)
		}
		wrapped := errors.Join(errors.New("context"), test.err)
		if got := KindOf(wrapped); got != test.want {
			t.Errorf("KindOf(wrapped %v) = %s, want %s", test.err, got, test.want)
		}
	}
}

// tamper changes one character inside the signature.
func tamper(token string) string {
	position := len(token) - 10
	replacement := byte('A')
	if token[position] == 'A' {
		replacement = 'B'
	}
	return token[:position] + string(replacement) + token[position+1:]
}
