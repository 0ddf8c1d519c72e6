// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never block forever on a channel that a broken
// implementation fails to feed. They are the only place in the test
// suite that uses a real wall-clock timeout; everything else runs on
// a fake clock.
//
// [Logger] returns a slog.Logger that writes through t.Log, so log
// lines from the code under test appear next to the failing test and
// nowhere else.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
