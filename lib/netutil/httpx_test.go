// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, fmt.Errorf("simulated read failure") }

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader([]byte(`{"status":"ok"}`)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"status":"ok"}` {
			t.Fatalf("got %q, want %q", data, `{"status":"ok"}`)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestDecodeRequest(t *testing.T) {
	type login struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"username":"alice","password":"pw"}`},
		{name: "unknown field", body: `{"username":"alice","passwd":"pw"}`, wantErr: true},
		{name: "trailing value", body: `{"username":"alice"} {"username":"bob"}`, wantErr: true},
		{name: "not JSON", body: `username=alice`, wantErr: true},
		{name: "oversized", body: `{"username":"` + strings.Repeat("a", int(MaxRequestSize)) + `"}`, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(test.body))
			recorder := httptest.NewRecorder()
			var decoded login
			err := DecodeRequest(recorder, request, &decoded)
			if test.wantErr {
				if err == nil {
					t.Fatalf("DecodeRequest(%.40q) succeeded, want error", test.body)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if decoded.Username != "alice" {
				t.Errorf("Username = %q, want alice", decoded.Username)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	if err := WriteJSON(recorder, http.StatusCreated, map[string]int{"post_id": 7}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if recorder.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusCreated)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	var decoded map[string]int
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if decoded["post_id"] != 7 {
		t.Errorf("post_id = %d, want 7", decoded["post_id"])
	}
}
