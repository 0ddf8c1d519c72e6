// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for byte strings the forum
// signs. JSON stays the format for everything that crosses the Matrix
// API and the forum API; CBOR is used where identical input must
// produce identical bytes, which is what a signature covers.
//
// Types use `cbor` struct tags when they are only ever CBOR-encoded.
// Types implementing encoding.TextMarshaler (the lib/ref identifiers)
// encode as CBOR text strings.
package codec
