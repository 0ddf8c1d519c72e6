// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Production code takes a Clock in its config struct and defaults to
// Real(). Tests pass Fake(), whose time moves only on Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop.Run(ctx)           // fails once, waits on c.After(time.Second)
//	c.WaitForTimers(1)         // block until the wait is registered
//	c.Advance(time.Second)     // release it deterministically
package clock
