// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/bureau-foundation/morum/lib/config"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/sealed"
	"github.com/bureau-foundation/morum/lib/secret"
	"github.com/bureau-foundation/morum/messaging"
)

// ConnectConfig configures [Connect].
type ConnectConfig struct {
	// HomeserverURL is the client-server API base URL. Required.
	HomeserverURL string

	// Account selects how the session authenticates.
	Account config.AccountConfig

	// HTTPClient is passed to the Matrix client. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client

	// Attempts bounds how many times the homeserver is probed before
	// Connect gives up. Default: 10.
	Attempts uint

	// Delay is the first pause between probes; later pauses grow
	// exponentially up to MaxDelay. Defaults: 1s and 30s.
	Delay    time.Duration
	MaxDelay time.Duration

	Logger *slog.Logger
}

// Connect waits until the homeserver answers, then opens the session
// described by the account configuration and confirms it with whoami.
// The caller closes the returned session.
//
// Only reachability is retried. A rejected password or token is
// returned at once: retrying a credential the homeserver refused does
// not make it valid.
func Connect(ctx context.Context, config ConnectConfig) (*messaging.Client, *messaging.DirectSession, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: config.HomeserverURL,
		HTTPClient:    config.HTTPClient,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := WaitForHomeserver(ctx, client, config, logger); err != nil {
		return nil, nil, err
	}

	session, err := openSession(ctx, client, config.Account)
	if err != nil {
		return nil, nil, err
	}

	userID, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("verifying matrix session: %w", err)
	}
	logger.Info("matrix session ready",
		"user_id", userID,
		"appservice", config.Account.Appservice,
	)
	return client, session, nil
}

// WaitForHomeserver probes the unauthenticated versions endpoint until
// it answers, backing off between failures.
func WaitForHomeserver(ctx context.Context, client *messaging.Client, config ConnectConfig, logger *slog.Logger) error {
	attempts := config.Attempts
	if attempts == 0 {
		attempts = 10
	}
	delay := config.Delay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var versions []string
	err := retry.Do(
		func() error {
			response, err := client.ServerVersions(ctx)
			if err != nil {
				return err
			}
			versions = response.Versions
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.MaxJitter(delay/2),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("homeserver not reachable, retrying",
				"homeserver", config.HomeserverURL,
				"attempt", n+1,
				"error", err,
			)
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	if err != nil {
		return fmt.Errorf("waiting for homeserver %s: %w", config.HomeserverURL, err)
	}
	logger.Info("homeserver reachable",
		"homeserver", config.HomeserverURL,
		"versions", versions,
	)
	return nil
}

// openSession authenticates with the configured credential.
func openSession(ctx context.Context, client *messaging.Client, account config.AccountConfig) (*messaging.DirectSession, error) {
	if account.PasswordFile != "" {
		password, err := secret.ReadFile(account.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("reading matrix password: %w", err)
		}
		defer password.Close()
		return client.Login(ctx, account.Username, password)
	}

	token, err := readAccessToken(account)
	if err != nil {
		return nil, err
	}
	// The user ID is learned from whoami.
	return client.SessionFromToken(ref.UserID{}, token)
}

// readAccessToken reads the access token file, decrypting it when an
// age identity is configured.
func readAccessToken(account config.AccountConfig) (*secret.Buffer, error) {
	if account.AccessTokenFile == "" {
		return nil, fmt.Errorf("account has neither password_file nor access_token_file")
	}
	if account.AgeIdentityFile == "" {
		token, err := secret.ReadFile(account.AccessTokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading matrix access token: %w", err)
		}
		return token, nil
	}

	identities, err := sealed.LoadIdentities(account.AgeIdentityFile)
	if err != nil {
		return nil, err
	}
	token, err := sealed.OpenFile(account.AccessTokenFile, identities...)
	if err != nil {
		return nil, fmt.Errorf("opening sealed matrix access token: %w", err)
	}
	return token, nil
}
