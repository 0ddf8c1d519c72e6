// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/bureau-foundation/morum/cmd/morum/cli"
	"github.com/bureau-foundation/morum/lib/config"
	"github.com/bureau-foundation/morum/lib/forum"
	"github.com/bureau-foundation/morum/lib/ref"
	"github.com/bureau-foundation/morum/lib/sealed"
	"github.com/bureau-foundation/morum/lib/service"
)

// withForum connects to the homeserver, starts the room cache, waits
// for the first sync and calls run. The cache stops when run returns.
func withForum(ctx context.Context, configPath string, run func(context.Context, *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, err := service.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(level)

	_, session, err := service.Connect(ctx, service.ConnectConfig{
		HomeserverURL: cfg.HomeserverURL,
		Account:       cfg.Account,
		Attempts:      3,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	forumApp, err := newApp(cfg, session, appOptions{Logger: logger})
	if err != nil {
		return err
	}
	return runWithCache(ctx, forumApp, run)
}

// runWithCache runs the app's sync loop for the duration of run.
func runWithCache(ctx context.Context, forumApp *app, run func(context.Context, *app) error) error {
	cacheCtx, stopCache := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(cacheCtx)
	group.Go(func() error {
		err := forumApp.cache.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	runErr := func() error {
		defer stopCache()
		if _, err := forumApp.cache.WaitReady(groupCtx); err != nil {
			return fmt.Errorf("waiting for the first sync: %w", err)
		}
		return run(groupCtx, forumApp)
	}()
	if err := group.Wait(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// parsePostAlias accepts a post number or a full room alias.
func parsePostAlias(forumApp *app, argument string) (ref.RoomAlias, error) {
	if strings.HasPrefix(argument, "#") {
		return ref.ParseRoomAlias(argument)
	}
	id, err := strconv.ParseUint(argument, 10, 64)
	if err != nil {
		return ref.RoomAlias{}, cli.Usagef("%q is neither a post number nor a room alias", argument)
	}
	return forumApp.codec.EncodePost(id), nil
}

// setCategory assigns a post to a category, or clears its category
// for "uncategorized".
func setCategory(ctx context.Context, forumApp *app, post, category string, output io.Writer) error {
	postAlias, err := parsePostAlias(forumApp, post)
	if err != nil {
		return err
	}
	result, err := forumApp.pipeline.SetCategory(ctx, postAlias, forum.ParseCategoryID(category))
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "%s (%s) is now in %s\n", postAlias, result.RoomID, category)
	return nil
}

// linkRoom lists room as a child of the category room behind slug, or
// of the #forum space when slug is empty.
func linkRoom(ctx context.Context, forumApp *app, slug, room string, output io.Writer) error {
	parent := forumApp.codec.Space()
	if slug != "" {
		categoryAlias, err := forumApp.codec.EncodeCategory(slug)
		if err != nil {
			return cli.Usagef("invalid category slug %q: %v", slug, err)
		}
		parent = categoryAlias
	}
	result, err := forumApp.pipeline.LinkRoom(ctx, parent, room)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "linked %s under %s\n", result.RoomID, parent)
	return nil
}

// mintToken issues an access token for a configured user.
func mintToken(cfg *config.Config, username string, output io.Writer, logger *slog.Logger) error {
	known := false
	for _, user := range cfg.Users {
		if user.Username == username {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%q is not a configured user", username)
	}
	issuer, err := newIssuer(cfg, nil, logger)
	if err != nil {
		return err
	}
	token, claim, err := issuer.Mint(username)
	if err != nil {
		return err
	}
	fmt.Fprintln(output, token)
	logger.Info("token minted",
		"username", username,
		"expires_at", time.Unix(int64(claim.Expiry), 0).UTC().Format(time.RFC3339),
	)
	return nil
}

// hashPassword reads a password and writes its bcrypt hash.
func hashPassword(input *os.File, output io.Writer, prompt io.Writer, cost int) error {
	var password []byte
	var err error
	if term.IsTerminal(int(input.Fd())) {
		password, err = promptSecret(input, prompt, "Password: ")
		if err != nil {
			return err
		}
		defer clear(password)
		confirmation, err := promptSecret(input, prompt, "Confirm password: ")
		if err != nil {
			return err
		}
		defer clear(confirmation)
		if !bytes.Equal(password, confirmation) {
			return errors.New("passwords do not match")
		}
	} else {
		password, err = readLine(input)
		if err != nil {
			return err
		}
		defer clear(password)
	}
	return writeHash(password, cost, output)
}

func writeHash(password []byte, cost int, output io.Writer) error {
	if len(password) == 0 {
		return errors.New("password is empty")
	}
	if len(password) > 72 {
		return errors.New("password is longer than 72 bytes, which bcrypt cannot hash")
	}
	hash, err := bcrypt.GenerateFromPassword(password, cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Fprintln(output, string(hash))
	return nil
}

// sealToken reads a homeserver access token and writes it encrypted to
// the recipients.
func sealToken(input *os.File, output io.Writer, prompt io.Writer, recipients []string, armored bool) error {
	if len(recipients) == 0 {
		return cli.Usagef("at least one --recipient is required")
	}
	var token []byte
	var err error
	if term.IsTerminal(int(input.Fd())) {
		token, err = promptSecret(input, prompt, "Access token: ")
	} else {
		token, err = readLine(input)
	}
	if err != nil {
		return err
	}
	defer clear(token)
	if len(token) == 0 {
		return errors.New("access token is empty")
	}

	ciphertext, err := sealed.Seal(token, recipients, armored)
	if err != nil {
		return err
	}
	_, err = output.Write(ciphertext)
	return err
}

func promptSecret(input *os.File, prompt io.Writer, label string) ([]byte, error) {
	fmt.Fprint(prompt, label)
	value, err := term.ReadPassword(int(input.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading from terminal: %w", err)
	}
	return bytes.TrimSpace(value), nil
}

// readLine reads the first line of a non-interactive input.
func readLine(input io.Reader) ([]byte, error) {
	reader := bufio.NewReader(input)
	line, err := reader.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return bytes.TrimSpace(line), nil
}
