// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomcache keeps an in-memory view of the service account's
// joined rooms and their state, refreshed by a background /sync loop.
//
// The loop in [Cache.Run] is the only writer. Each sync response is
// applied copy-on-write to produce a new immutable [Snapshot], which is
// published with a single atomic pointer swap. Readers call
// [Cache.Snapshot] and never see a partially applied response.
package roomcache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/morum/lib/clock"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/messaging"
)

// syncFilter limits /sync to the state the forum reads. Timeline events
// are still requested (limited to state types) so that state changes
// newer than the state section are seen.
const syncFilter = `{"presence":{"types":[]},"account_data":{"types":[]},"room":{` +
	`"ephemeral":{"types":[]},"account_data":{"types":[]},` +
	`"state":{"types":["m.room.name","m.room.topic","m.room.canonical_alias","m.space.child","org.corepaper.morum.category"]},` +
	`"timeline":{"limit":50,"types":["m.room.name","m.room.topic","m.room.canonical_alias","m.space.child","org.corepaper.morum.category"]}}}`

// Config configures a Cache.
type Config struct {
	Session messaging.Session

	// Timeout is the long-poll timeout in milliseconds for incremental
	// syncs. Default: 30000.
	Timeout int

	// MaxBackoff caps the exponential backoff between failed syncs,
	// which starts at one second. Default: 30 seconds.
	MaxBackoff time.Duration

	// FullState requests the complete state of every room on every
	// sync instead of deltas. Homeservers answer full-state syncs
	// without long-polling, so the loop waits Interval between them.
	FullState bool

	// Interval is the pause between successful full-state syncs.
	// Default: 5 seconds. Unused without FullState.
	Interval time.Duration

	// AcceptInvites joins rooms the account is invited to, so that a
	// category room can be attached by inviting the service.
	AcceptInvites bool

	// OnSync, when set, is called after every sync attempt with the
	// error (nil on success) and the attempt's duration.
	OnSync func(err error, duration time.Duration)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Cache holds the latest Snapshot.
type Cache struct {
	session       messaging.Session
	timeout       int
	maxBackoff    time.Duration
	fullState     bool
	interval      time.Duration
	acceptInvites bool
	onSync        func(error, time.Duration)
	clock         clock.Clock
	logger        *slog.Logger

	current atomic.Pointer[Snapshot]
}

// New returns a Cache holding the empty snapshot. Call Run to start
// syncing.
func New(config Config) *Cache {
	cache := &Cache{
		session:       config.Session,
		timeout:       config.Timeout,
		maxBackoff:    config.MaxBackoff,
		fullState:     config.FullState,
		interval:      config.Interval,
		acceptInvites: config.AcceptInvites,
		onSync:        config.OnSync,
		clock:         config.Clock,
		logger:        config.Logger,
	}
	if cache.timeout <= 0 {
		cache.timeout = 30000
	}
	if cache.maxBackoff <= 0 {
		cache.maxBackoff = 30 * time.Second
	}
	if cache.interval <= 0 {
		cache.interval = 5 * time.Second
	}
	if cache.clock == nil {
		cache.clock = clock.Real()
	}
	if cache.logger == nil {
		cache.logger = slog.Default()
	}
	cache.current.Store(emptySnapshot())
	return cache
}

// Snapshot returns the latest published snapshot.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// WaitFor blocks until the latest snapshot satisfies ready and returns
// it. ready is evaluated against the current snapshot first and then
// against each newly published one.
func (c *Cache) WaitFor(ctx context.Context, ready func(*Snapshot) bool) (*Snapshot, error) {
	for {
		snapshot := c.current.Load()
		if ready(snapshot) {
			return snapshot, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-snapshot.superseded:
		}
	}
}

// WaitReady blocks until the first sync has been applied.
func (c *Cache) WaitReady(ctx context.Context) (*Snapshot, error) {
	return c.WaitFor(ctx, func(s *Snapshot) bool { return s.Version() > 0 })
}

// Run syncs until ctx is cancelled and returns ctx's error. Failed
// syncs are retried with exponential backoff and never end the loop.
func (c *Cache) Run(ctx context.Context) error {
	backoff := time.Second
	since := c.current.Load().NextBatch()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		options := messaging.SyncOptions{
			Since:     since,
			Filter:    syncFilter,
			FullState: c.fullState,
		}
		if since != "" && !c.fullState {
			options.Timeout = c.timeout
			options.SetTimeout = true
		}

		started := c.clock.Now()
		response, err := c.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.report(err, started)
			c.logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			if closer, ok := c.session.(interface{ CloseIdleConnections() }); ok {
				closer.CloseIdleConnections()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		c.report(nil, started)

		backoff = time.Second
		if c.acceptInvites && len(response.Rooms.Invite) > 0 {
			c.joinInvited(ctx, response.Rooms.Invite)
		}
		snapshot := c.apply(response, since == "" || c.fullState)
		since = snapshot.NextBatch()
		c.logger.Debug("sync applied",
			"version", snapshot.Version(),
			"rooms", snapshot.Len(),
			"joined", len(response.Rooms.Join),
			"left", len(response.Rooms.Leave),
		)

		if c.fullState {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(c.interval):
			}
		}
	}
}

// apply builds and publishes the snapshot following response. Only the
// Run goroutine calls apply.
func (c *Cache) apply(response *messaging.SyncResponse, fullState bool) *Snapshot {
	previous := c.current.Load()
	next := previous.next(response, fullState)
	c.current.Store(next)
	close(previous.superseded)
	return next
}

func (c *Cache) report(err error, started time.Time) {
	if c.onSync != nil {
		c.onSync(err, c.clock.Now().Sub(started))
	}
}

// joinInvited joins rooms the account has been invited to. A room that
// cannot be joined is logged and left for the next sync.
func (c *Cache) joinInvited(ctx context.Context, invites map[ref.RoomID]messaging.InvitedRoom) {
	for roomID := range invites {
		c.logger.Info("accepting room invite", "room_id", roomID)
		if _, err := c.session.JoinRoom(ctx, roomID); err != nil {
			c.logger.Error("failed to accept room invite",
				"room_id", roomID,
				"error", err,
			)
		}
	}
}

// HasCategoryState reports whether roomID is joined and carries a
// category assignment event (with any value, including none). The
// mutation pipeline waits on it after creating a post.
func HasCategoryState(roomID ref.RoomID) func(*Snapshot) bool {
	return func(s *Snapshot) bool {
		state, ok := s.State(roomID)
		if !ok {
			return false
		}
		for _, event := range state {
			if event.Type == schema.EventTypeCategory && event.StateKey != nil && *event.StateKey == "" {
				return true
			}
		}
		return false
	}
}
