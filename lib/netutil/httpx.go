// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds and encodes the JSON bodies that cross the
// forum's two HTTP edges: responses read from the homeserver and
// requests decoded from forum API clients.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds homeserver response bodies. /sync with
// full_state over many rooms is the largest legitimate response, and it
// stays far below this.
const MaxResponseSize int64 = 256 << 20

// MaxRequestSize bounds forum API request bodies. A comment body of a
// few hundred kilobytes is already unusual.
const MaxRequestSize int64 = 1 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeRequest decodes a JSON request body of at most MaxRequestSize
// bytes into v. Unknown fields are rejected so that a misspelled field
// name surfaces as a client error instead of an empty value.
func DecodeRequest(writer http.ResponseWriter, request *http.Request, v any) error {
	body := http.MaxBytesReader(writer, request.Body, MaxRequestSize)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("decoding request body: trailing data after JSON value")
	}
	return nil
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(writer http.ResponseWriter, status int, v any) error {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	return json.NewEncoder(writer).Encode(v)
}
