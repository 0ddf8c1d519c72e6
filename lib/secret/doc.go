// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials outside the Go heap.
//
// The forum carries two long-lived secrets in memory: the homeserver
// access token used by every backend call and, during startup, the
// service account password. [Buffer] keeps them in an anonymous mmap
// region that is locked against swap and excluded from core dumps, and
// zeroes the region on Close.
//
// [ReadFile] loads a credential file (trimmed of surrounding
// whitespace) straight into a Buffer. [NewFromString] exists for the
// JSON boundary, where the token arrives as a string anyway.
package secret
