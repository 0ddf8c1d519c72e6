// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package accesstoken mints and verifies the bearer tokens forum users
// receive at login and present with every write request.
//
// A token is the unpadded base64url encoding of a CBOR-encoded [Claim]
// followed by the 64-byte Ed25519 signature over that CBOR payload.
// Tokens are self-contained: verification needs only the public key
// and the current time, so the server keeps no session table. There is
// no revocation; the lifetime is bounded by the expiry the issuer sets.
//
// Core deterministic encoding (via lib/codec) makes the payload bytes a
// function of the claim, so a claim re-encoded by a verifier would
// produce the same signature input.
package accesstoken
