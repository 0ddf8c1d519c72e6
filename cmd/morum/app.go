// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/morum/lib/accesstoken"
	"github.com/bureau-foundation/morum/lib/alias"
	"github.com/bureau-foundation/morum/lib/clock"
	"github.com/bureau-foundation/morum/lib/config"
	"github.com/bureau-foundation/morum/lib/forum"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/roomcache"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/lib/timeline"
	"github.com/bureau-foundation/morum/messaging"
)

// app is the forum wired over one Matrix session. The administrative
// subcommands use the cache and pipeline; serve adds the API service.
type app struct {
	cache    *roomcache.Cache
	codec    *alias.Codec
	catalog  forum.Catalog
	pipeline *forum.Pipeline
	metrics  *metrics

	// service is nil unless an issuer was given.
	service *forum.Service
}

type appOptions struct {
	// Issuer enables the API service.
	Issuer *accesstoken.Issuer
	Clock  clock.Clock
	Logger *slog.Logger
}

func newApp(cfg *config.Config, session messaging.Session, options appOptions) (*app, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	serverName, err := ref.ParseServerName(cfg.ServerName)
	if err != nil {
		return nil, fmt.Errorf("server_name: %w", err)
	}
	codec, err := alias.New(serverName)
	if err != nil {
		return nil, err
	}

	m := newMetrics()
	cache := roomcache.New(roomcache.Config{
		Session:       session,
		Timeout:       cfg.Sync.TimeoutMS,
		MaxBackoff:    cfg.Sync.MaxBackoff,
		FullState:     cfg.Sync.FullState,
		Interval:      cfg.Sync.Interval,
		AcceptInvites: cfg.Sync.AcceptInvites,
		OnSync:        m.observeSync,
		Clock:         options.Clock,
		Logger:        logger.With("component", "roomcache"),
	})
	m.watchCache(cache)

	var catalog forum.Catalog
	switch cfg.Mode {
	case config.Space:
		catalog = forum.NewSpaceCatalog(cache, codec, session)
	default:
		catalog = forum.NewStaticCatalog(staticCategories(cfg.Categories))
	}

	classifier := forum.NewClassifier(cache, codec, logger.With("component", "classifier"))
	pipeline := forum.NewPipeline(forum.PipelineConfig{
		Session:           session,
		Cache:             cache,
		Codec:             codec,
		Classifier:        classifier,
		Catalog:           catalog,
		Appservice:        cfg.Account.Appservice,
		VisibilityTimeout: cfg.PostVisibilityTimeout,
		Logger:            logger.With("component", "pipeline"),
	})

	result := &app{
		cache:    cache,
		codec:    codec,
		catalog:  catalog,
		pipeline: pipeline,
		metrics:  m,
	}
	if options.Issuer != nil {
		users := make(map[string]string, len(cfg.Users))
		for _, user := range cfg.Users {
			users[user.Username] = user.PasswordHash
		}
		result.service = forum.NewService(forum.Config{
			Classifier: classifier,
			Catalog:    catalog,
			Pipeline:   pipeline,
			Collator:   timeline.New(timeline.Config{Session: session, Logger: logger.With("component", "timeline")}),
			Issuer:     options.Issuer,
			Users:      users,
			Logger:     logger,
		})
	}
	return result, nil
}

// newIssuer loads the token signing key, generating it on first use.
func newIssuer(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*accesstoken.Issuer, error) {
	key, generated, err := accesstoken.LoadOrGenerateKey(cfg.Tokens.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Info("generated token signing key", "path", cfg.Tokens.SigningKeyFile)
	}
	return accesstoken.NewIssuer(key, cfg.Tokens.TTL, clk)
}

// newWriteLimiter returns nil when write_rate.per_second is zero.
func newWriteLimiter(cfg config.RateConfig) *rate.Limiter {
	if cfg.PerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
}

func staticCategories(categories []config.CategoryConfig) []schema.Category {
	result := make([]schema.Category, 0, len(categories))
	for _, category := range categories {
		converted := schema.Category{
			Title:       category.Title,
			Topic:       category.Topic,
			RoomLocalID: category.RoomLocalID,
		}
		for _, subcategory := range category.Subcategories {
			converted.Subcategories = append(converted.Subcategories, schema.Subcategory{
				ID:    subcategory.ID,
				Title: subcategory.Title,
				Topic: subcategory.Topic,
			})
		}
		result = append(result, converted)
	}
	return result
}
