// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Morum serves a forum whose categories, posts and comments live in a
// Matrix homeserver. "morum serve" keeps a room cache synced and
// answers the forum JSON API under /api/native, with /healthz and
// /metrics alongside. The remaining subcommands are operator tools:
// set-category and link-category edit the room graph directly, while
// hash-password, mint-token and seal-token prepare credentials for the
// configuration file.
package main
