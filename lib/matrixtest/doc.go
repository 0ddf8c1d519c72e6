// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrixtest provides an in-memory Matrix homeserver for tests.
//
// [Homeserver] implements the slice of the client-server API the forum
// uses (login, whoami, register, createRoom, join, room state, send,
// /messages, /sync, directory lookup, joined_rooms) with application
// service semantics: the single access token may assert any registered
// user through the user_id query parameter.
//
// Tests seed rooms directly with [Homeserver.CreateRoom],
// [Homeserver.SetState] and [Homeserver.AddMessage], which bypass the
// write counter, then exercise code through a real messaging session
// from [Homeserver.Session]. [Homeserver.Writes] counts mutating API
// requests, so a test can assert that an operation made none.
// [Homeserver.SetFault] injects Matrix errors into selected requests.
package matrixtest
