// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed reads credentials stored encrypted with age.
//
// An operator can keep the homeserver access token (for an application
// service, the as_token) on disk encrypted to an X25519 identity
// instead of in plaintext:
//
//	morum seal-token --recipient age1... < as_token > as_token.age
//
// [OpenFile] decrypts such a file, binary or ASCII-armored, directly
// into a [secret.Buffer]. Identities are read with [LoadIdentities]
// from a file in age-keygen format, comments allowed.
package sealed
