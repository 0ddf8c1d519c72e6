// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/morum/lib/accesstoken"
	"github.com/bureau-foundation/morum/lib/alias"
	"github.com/bureau-foundation/morum/lib/clock"
	"github.com/bureau-foundation/morum/lib/matrixtest"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/roomcache"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/lib/testutil"
	"github.com/bureau-foundation/morum/lib/timeline"
	"github.com/bureau-foundation/morum/messaging"
)

const testPassword = "correct horse"

func ptr(s string) *string { return &s }

// staticCategories has a "general" subcategory and the uncategorized
// bucket.
func staticCategories() []schema.Category {
	return []schema.Category{{
		Title:       "Discussion",
		Topic:       "Talk about things",
		RoomLocalID: "discussion",
		Subcategories: []schema.Subcategory{
			{ID: ptr("general"), Title: "General", Topic: "Anything goes"},
			{ID: nil, Title: "Uncategorized", Topic: "Everything else"},
		},
	}}
}

type fixture struct {
	homeserver *matrixtest.Homeserver
	cache      *roomcache.Cache
	codec      *alias.Codec
	classifier *Classifier
	pipeline   *Pipeline
	service    *Service
	clock      *clock.FakeClock
}

type fixtureOptions struct {
	appservice bool
	space      bool
}

func newFixture(t *testing.T, options fixtureOptions) *fixture {
	t.Helper()
	homeserver := matrixtest.New(t, matrixtest.Options{})
	session := homeserver.Session(t)
	logger := testutil.Logger(t)

	codec, err := alias.New(homeserver.ServerName())
	if err != nil {
		t.Fatalf("alias.New: %v", err)
	}
	cache := roomcache.New(roomcache.Config{Session: session, Logger: logger})
	classifier := NewClassifier(cache, codec, logger)

	var catalog Catalog = NewStaticCatalog(staticCategories())
	if options.space {
		catalog = NewSpaceCatalog(cache, codec, session)
	}
	pipeline := NewPipeline(PipelineConfig{
		Session:    session,
		Cache:      cache,
		Codec:      codec,
		Classifier: classifier,
		Catalog:    catalog,
		Appservice: options.appservice,
		Logger:     logger,
	})

	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := accesstoken.NewIssuer(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize)), time.Hour, fake)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}

	service := NewService(Config{
		Classifier: classifier,
		Catalog:    catalog,
		Pipeline:   pipeline,
		Collator:   timeline.New(timeline.Config{Session: session, Logger: logger}),
		Issuer:     issuer,
		Users:      map[string]string{"alice": string(hash)},
		Logger:     logger,
	})

	return &fixture{
		homeserver: homeserver,
		cache:      cache,
		codec:      codec,
		classifier: classifier,
		pipeline:   pipeline,
		service:    service,
		clock:      fake,
	}
}

// start runs the sync loop until the test ends and waits for the first
// sync.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.cache.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "sync loop did not stop")
	})
	if _, err := f.cache.WaitReady(testContext(t)); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

// sync waits until the cache has caught up with every seeded change.
func (f *fixture) sync(t *testing.T, ready func(*roomcache.Snapshot) bool) {
	t.Helper()
	if _, err := f.cache.WaitFor(testContext(t), ready); err != nil {
		t.Fatalf("waiting for room cache: %v", err)
	}
}

// seedPost creates a post room the way NewPost would.
func (f *fixture) seedPost(id uint64, title string, category *string) ref.RoomID {
	roomID := f.homeserver.CreateRoom(matrixtest.RoomSpec{
		Name:  title,
		Topic: title + " topic",
		Alias: f.codec.EncodePost(id).String(),
	})
	f.homeserver.SetState(roomID, schema.EventTypeCategory, "", schema.NewCategoryContent(category))
	return roomID
}

func (f *fixture) token(t *testing.T, username string) string {
	t.Helper()
	response, err := f.service.Login(context.Background(), LoginRequest{Username: username, Password: testPassword})
	if err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}
	return response.AccessToken
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func messageBodies(t *testing.T, events []messaging.Event) []string {
	t.Helper()
	var bodies []string
	for _, event := range events {
		var content messaging.MessageContent
		if err := event.DecodeContent(&content); err != nil {
			t.Fatalf("decoding %s: %v", event.EventID, err)
		}
		bodies = append(bodies, content.Body)
	}
	return bodies
}

func roomSpecWithAlias(roomAlias string) matrixtest.RoomSpec {
	return matrixtest.RoomSpec{Alias: roomAlias}
}
