// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the morum
// binary.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time via -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/morum/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected (go install, test runs), the commit and
// dirty flag fall back to the VCS stamp the Go toolchain embeds in the
// binary.
package version
