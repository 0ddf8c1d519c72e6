// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/morum/lib/config"
	"github.com/bureau-foundation/morum/lib/matrixtest"
	"github.com/bureau-foundation/morum/lib/testutil"
)

const testPassword = "correct horse"

func ptr(s string) *string { return &s }

// testConfig is a static-mode configuration against homeserver with
// the user alice and a "general" subcategory.
func testConfig(t *testing.T, homeserver *matrixtest.Homeserver) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	cfg := config.Default()
	cfg.HomeserverURL = homeserver.URL()
	cfg.ServerName = homeserver.ServerName().String()
	cfg.Listen = "127.0.0.1:0"
	cfg.Account.Appservice = true
	cfg.Tokens.SigningKeyFile = filepath.Join(t.TempDir(), "signing.key")
	cfg.Users = []config.UserConfig{{Username: "alice", PasswordHash: string(hash)}}
	cfg.Categories = []config.CategoryConfig{{
		Title:       "Discussion",
		RoomLocalID: "discussion",
		Subcategories: []config.SubcategoryConfig{
			{ID: ptr("general"), Title: "General"},
			{Title: "Uncategorized"},
		},
	}}
	cfg.WriteRate = config.RateConfig{}
	return cfg
}

type testServer struct {
	homeserver *matrixtest.Homeserver
	app        *app
	server     *httptest.Server
}

// newTestServer wires the API over a fake homeserver. The sync loop is
// not started; call start.
func newTestServer(t *testing.T, configure func(*config.Config)) *testServer {
	t.Helper()
	homeserver := matrixtest.New(t, matrixtest.Options{})
	cfg := testConfig(t, homeserver)
	if configure != nil {
		configure(cfg)
	}
	logger := testutil.Logger(t)

	issuer, err := newIssuer(cfg, nil, logger)
	if err != nil {
		t.Fatalf("newIssuer: %v", err)
	}
	forumApp, err := newApp(cfg, homeserver.Session(t), appOptions{Issuer: issuer, Logger: logger})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	server := httptest.NewServer(newAPIHandler(apiConfig{
		Forum:        forumApp.service,
		Cache:        forumApp.cache,
		Metrics:      forumApp.metrics,
		WriteLimiter: newWriteLimiter(cfg.WriteRate),
		Logger:       logger,
	}))
	t.Cleanup(server.Close)
	return &testServer{homeserver: homeserver, app: forumApp, server: server}
}

// start runs the sync loop until the test ends and waits for the first
// sync.
func (s *testServer) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.app.cache.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "sync loop did not stop")
	})
	if _, err := s.app.cache.WaitReady(testContext(t)); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

// call sends a request and decodes a JSON response into response when
// it is non-nil. It returns the status code.
func (s *testServer) call(t *testing.T, method, path string, body, response any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("encoding request: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}
	request, err := http.NewRequestWithContext(testContext(t), method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	result, err := s.server.Client().Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if response != nil {
		if err := json.Unmarshal(data, response); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, data, err)
		}
	}
	return result.StatusCode
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
