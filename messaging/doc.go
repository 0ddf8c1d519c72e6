// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API the
// forum is built on.
//
// [Client] is an unauthenticated handle holding the homeserver URL and
// HTTP transport. It logs in with a password or wraps an existing access
// token, returning a [DirectSession]. A DirectSession carries the token in
// mmap-backed [secret.Buffer] memory and implements [Session]: room
// creation and joins, state reads and writes, timeline pagination,
// alias resolution, the joined-room list, and /sync.
//
// When the service runs as an application service, [DirectSession.AsUser]
// derives a session that asserts a different user's identity with the
// user_id query parameter, and [DirectSession.RegisterUser] creates
// accounts in the appservice's namespace. A forum author's comment is
// then sent as that author rather than as the service account.
//
// All API failures are returned as [*MatrixError] with the Matrix error
// code and HTTP status; [IsMatrixError] tests for a code. Request URLs
// are built by string concatenation with url.PathEscape on each segment
// so that aliases containing reserved characters are encoded once.
//
// [secret.Buffer]: github.com/bureau-foundation/morum/lib/secret.Buffer
package messaging
