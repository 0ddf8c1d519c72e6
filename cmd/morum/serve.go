// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/morum/lib/config"
	"github.com/bureau-foundation/morum/lib/service"
	"github.com/bureau-foundation/morum/lib/version"
	"github.com/bureau-foundation/morum/messaging"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := service.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Info("morum starting",
		"version", version.Info(),
		"homeserver", cfg.HomeserverURL,
		"server_name", cfg.ServerName,
		"mode", cfg.Mode,
	)

	_, session, err := service.Connect(ctx, service.ConnectConfig{
		HomeserverURL: cfg.HomeserverURL,
		Account:       cfg.Account,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	return serve(ctx, cfg, session, logger, nil)
}

// serve runs the sync loop and the API server until ctx is cancelled
// or either fails. ready, when set, receives the bound server once it
// accepts connections.
func serve(ctx context.Context, cfg *config.Config, session messaging.Session, logger *slog.Logger, ready func(*service.HTTPServer)) error {
	issuer, err := newIssuer(cfg, nil, logger)
	if err != nil {
		return err
	}
	forumApp, err := newApp(cfg, session, appOptions{Issuer: issuer, Logger: logger})
	if err != nil {
		return err
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen,
		Handler: newAPIHandler(apiConfig{
			Forum:        forumApp.service,
			Cache:        forumApp.cache,
			Metrics:      forumApp.metrics,
			WriteLimiter: newWriteLimiter(cfg.WriteRate),
			Logger:       logger.With("component", "api"),
		}),
		WriteTimeout: cfg.PostVisibilityTimeout + 30*time.Second,
		Logger:       logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return forumApp.cache.Run(groupCtx)
	})
	group.Go(func() error {
		return server.Serve(groupCtx)
	})
	if ready != nil {
		group.Go(func() error {
			select {
			case <-server.Ready():
				ready(server)
			case <-groupCtx.Done():
			}
			return nil
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("morum stopped")
		return nil
	}
	return err
}

// loadConfig loads path, or the file named by MORUM_CONFIG when path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}
