// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the process scaffolding of the forum
// server: structured logging, the connection to the Matrix homeserver,
// and the HTTP listener.
//
//   - [NewLogger] builds the process-wide JSON logger at a configured
//     level.
//   - [Connect] waits for the homeserver to answer, then opens an
//     authenticated session from the account configuration: a password
//     login, a plain access token file, or an age-sealed one.
//   - [HTTPServer] owns the TCP listener and graceful shutdown; the
//     caller provides the handler.
//
// The server composes these in its own main function. The package
// provides building blocks, not a runtime.
package service
