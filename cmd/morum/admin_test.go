// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/morum/cmd/morum/cli"
	"github.com/bureau-foundation/morum/lib/forum"
	"github.com/bureau-foundation/morum/lib/matrixtest"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/lib/sealed"
	"github.com/bureau-foundation/morum/lib/testutil"
)

// runAdmin runs an admin action against the server's app with the sync
// loop running.
func (s *testServer) runAdmin(t *testing.T, run func(context.Context, *app) error) error {
	t.Helper()
	return runWithCache(testContext(t), s.app, run)
}

func TestSetCategory(t *testing.T) {
	s := newTestServer(t, nil)
	postAlias := s.app.codec.EncodePost(4)
	roomID := s.homeserver.CreateRoom(matrixtest.RoomSpec{
		Name:  "Imported",
		Topic: "from elsewhere",
		Alias: postAlias.String(),
	})

	var output bytes.Buffer
	err := s.runAdmin(t, func(ctx context.Context, forumApp *app) error {
		return setCategory(ctx, forumApp, "4", "general", &output)
	})
	if err != nil {
		t.Fatalf("setCategory: %v", err)
	}
	raw, ok := s.homeserver.StateContent(roomID, schema.EventTypeCategory, "")
	if !ok {
		t.Fatal("category state was not written")
	}
	var content schema.CategoryContent
	if err := json.Unmarshal(raw, &content); err != nil {
		t.Fatalf("decoding category state: %v", err)
	}
	if content.Category != "general" {
		t.Errorf("category = %q, want general", content.Category)
	}
	if !strings.Contains(output.String(), "is now in general") {
		t.Errorf("output = %q", output.String())
	}

	output.Reset()
	err = s.runAdmin(t, func(ctx context.Context, forumApp *app) error {
		return setCategory(ctx, forumApp, postAlias.String(), "uncategorized", &output)
	})
	if err != nil {
		t.Fatalf("setCategory uncategorized: %v", err)
	}
	raw, _ = s.homeserver.StateContent(roomID, schema.EventTypeCategory, "")
	content = schema.CategoryContent{}
	if err := json.Unmarshal(raw, &content); err != nil {
		t.Fatalf("decoding category state: %v", err)
	}
	if content.Assignment() != nil {
		t.Errorf("category = %q, want cleared", content.Category)
	}
}

func TestSetCategoryRejects(t *testing.T) {
	s := newTestServer(t, nil)
	s.homeserver.CreateRoom(matrixtest.RoomSpec{Name: "Post", Topic: "t", Alias: s.app.codec.EncodePost(1).String()})

	tests := []struct {
		name     string
		post     string
		category string
		wantErr  error
	}{
		{name: "unknown_category", post: "1", category: "nope", wantErr: forum.ErrUnknownCategory},
		{name: "unknown_post", post: "2", category: "general", wantErr: forum.ErrUnknownPost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writes := s.homeserver.Writes()
			err := s.runAdmin(t, func(ctx context.Context, forumApp *app) error {
				return setCategory(ctx, forumApp, tt.post, tt.category, io.Discard)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := s.homeserver.Writes(); got != writes {
				t.Errorf("%d writes after a rejected assignment", got-writes)
			}
		})
	}

	t.Run("malformed_post", func(t *testing.T) {
		_, err := parsePostAlias(s.app, "post-one")
		var usage *cli.UsageError
		if !errors.As(err, &usage) {
			t.Errorf("error = %v, want a usage error", err)
		}
	})
}

func TestLinkRoom(t *testing.T) {
	s := newTestServer(t, nil)
	categoryAlias, err := s.app.codec.EncodeCategory("general")
	if err != nil {
		t.Fatalf("EncodeCategory: %v", err)
	}
	categoryRoom := s.homeserver.CreateRoom(matrixtest.RoomSpec{
		Name:  "General",
		Topic: "anything goes",
		Alias: categoryAlias.String(),
	})
	child := s.homeserver.CreateRoom(matrixtest.RoomSpec{Name: "Outside", Topic: "t", NotJoined: true})

	var output bytes.Buffer
	err = s.runAdmin(t, func(ctx context.Context, forumApp *app) error {
		return linkRoom(ctx, forumApp, "general", child.String(), &output)
	})
	if err != nil {
		t.Fatalf("linkRoom: %v", err)
	}
	if !s.homeserver.Joined(child, s.homeserver.ServiceUser()) {
		t.Error("service user did not join the child room")
	}
	if _, ok := s.homeserver.StateContent(categoryRoom, schema.EventTypeSpaceChild, child.String()); !ok {
		t.Error("no m.space.child event in the category room")
	}
	if !strings.Contains(output.String(), "linked "+child.String()) {
		t.Errorf("output = %q", output.String())
	}

	err = s.runAdmin(t, func(ctx context.Context, forumApp *app) error {
		return linkRoom(ctx, forumApp, "missing", child.String(), io.Discard)
	})
	if !errors.Is(err, forum.ErrUnknownCategoryRoom) {
		t.Errorf("unknown category slug: error = %v, want ErrUnknownCategoryRoom", err)
	}
}

func TestMintToken(t *testing.T) {
	homeserver := matrixtest.New(t, matrixtest.Options{})
	cfg := testConfig(t, homeserver)
	logger := testutil.Logger(t)

	if err := mintToken(cfg, "bob", io.Discard, logger); err == nil {
		t.Error("minted a token for an unconfigured user")
	}

	var output bytes.Buffer
	if err := mintToken(cfg, "alice", &output, logger); err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	issuer, err := newIssuer(cfg, nil, logger)
	if err != nil {
		t.Fatalf("newIssuer: %v", err)
	}
	claim, err := issuer.Verify(strings.TrimSpace(output.String()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claim.Username != "alice" {
		t.Errorf("username = %q, want alice", claim.Username)
	}
}

// stdinFile returns a file positioned at the start of content.
func stdinFile(t *testing.T, content string) *os.File {
	t.Helper()
	file, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	if err != nil {
		t.Fatalf("creating input: %v", err)
	}
	t.Cleanup(func() { file.Close() })
	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("rewinding input: %v", err)
	}
	return file
}

func TestHashPassword(t *testing.T) {
	var output bytes.Buffer
	if err := hashPassword(stdinFile(t, "s3cret pass\nignored\n"), &output, io.Discard, bcrypt.MinCost); err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	hash := strings.TrimSpace(output.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret pass")); err != nil {
		t.Errorf("hash does not match the first line: %v", err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "blank_line", input: "  \n"},
		{name: "too_long", input: strings.Repeat("x", 73)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := hashPassword(stdinFile(t, tt.input), io.Discard, io.Discard, bcrypt.MinCost); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "token\n", want: "token"},
		{input: "token", want: "token"},
		{input: "  padded  \r\nsecond\n", want: "padded"},
		{input: "", want: ""},
	}
	for _, tt := range tests {
		got, err := readLine(strings.NewReader(tt.input))
		if err != nil {
			t.Fatalf("readLine(%q): %v", tt.input, err)
		}
		if string(got) != tt.want {
			t.Errorf("readLine(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSealToken(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	recipients := []string{identity.Recipient().String()}

	for _, armored := range []bool{true, false} {
		var output bytes.Buffer
		if err := sealToken(stdinFile(t, "syt_secret\n"), &output, io.Discard, recipients, armored); err != nil {
			t.Fatalf("sealToken(armored=%v): %v", armored, err)
		}
		if bytes.Contains(output.Bytes(), []byte("syt_secret")) {
			t.Fatalf("armored=%v: ciphertext contains the token", armored)
		}
		buffer, err := sealed.Open(output.Bytes(), identity)
		if err != nil {
			t.Fatalf("armored=%v: Open: %v", armored, err)
		}
		if buffer.String() != "syt_secret" {
			t.Errorf("armored=%v: opened %q, want syt_secret", armored, buffer.String())
		}
		buffer.Close()
	}

	var usage *cli.UsageError
	if err := sealToken(stdinFile(t, "syt_secret\n"), io.Discard, io.Discard, nil, true); !errors.As(err, &usage) {
		t.Errorf("no recipients: error = %v, want a usage error", err)
	}
	if err := sealToken(stdinFile(t, "\n"), io.Discard, io.Discard, recipients, true); err == nil {
		t.Error("sealed an empty token")
	}
}
