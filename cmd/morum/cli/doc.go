// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the morum binary.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function receiving the process context. Commands are assembled into
// a tree in cmd/morum/main.go and dispatched via [Command.Execute],
// which handles flag parsing, subcommand routing, and help output.
//
// An unknown subcommand or flag gets the closest known name suggested
// when it is within an edit distance of three.
package cli
