// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/morum/cmd/morum/cli"
	"github.com/bureau-foundation/morum/lib/config"
	"github.com/bureau-foundation/morum/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand().Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			if _, silent := err.(*cli.ExitError); !silent {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// configFlag binds --config. Empty means $MORUM_CONFIG.
func configFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVarP(path, "config", "c", "", "configuration file (default $"+config.EnvironmentVariable+")")
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:        "morum",
		Summary:     "a forum stored in a Matrix homeserver",
		Description: "morum serves a forum whose categories, posts and comments are Matrix rooms and messages.",
		Subcommands: []*cli.Command{
			serveCommand(),
			setCategoryCommand(),
			linkCategoryCommand(),
			hashPasswordCommand(),
			mintTokenCommand(),
			sealTokenCommand(),
			versionCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "serve",
		Summary: "run the forum API server",
		Description: "Connect to the homeserver, keep the room cache synced and serve the\n" +
			"forum JSON API until interrupted.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Usagef("serve takes no arguments, got %q", args[0])
			}
			return runServe(ctx, configPath)
		},
	}
}

func setCategoryCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "set-category",
		Summary: "move a post to another category",
		Usage:   "morum set-category [flags] <post> <category|uncategorized>",
		Description: "Overwrite the category of a post. <post> is a post number or the\n" +
			"post room's alias. The category must exist in the catalog.",
		Examples: []cli.Example{
			{Description: "move post 12 to the general category", Command: "morum set-category 12 general"},
			{Description: "clear the category of a post", Command: "morum set-category '#forum_post_12:example.org' uncategorized"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set-category", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return cli.Usagef("set-category takes <post> <category>, got %d arguments", len(args))
			}
			return withForum(ctx, configPath, func(ctx context.Context, forumApp *app) error {
				return setCategory(ctx, forumApp, args[0], args[1], os.Stdout)
			})
		},
	}
}

func linkCategoryCommand() *cli.Command {
	var configPath string
	var space bool
	return &cli.Command{
		Name:    "link-category",
		Summary: "list a room under a category room or the #forum space",
		Usage:   "morum link-category [flags] <category-slug> <room>\n  morum link-category --space [flags] <category-room>",
		Description: "Join <room> (a room ID or alias) and add it as a child of the\n" +
			"category room #forum-<category-slug>. With --space the room is added to\n" +
			"the #forum space instead, which publishes it as a category.",
		Examples: []cli.Example{
			{Description: "publish a category room", Command: "morum link-category --space '#forum-general:example.org'"},
			{Description: "list post 3 under the general category", Command: "morum link-category general '#forum_post_3:example.org'"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("link-category", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&space, "space", false, "link into the #forum space")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var slug, room string
			switch {
			case space && len(args) == 1:
				room = args[0]
			case !space && len(args) == 2:
				slug, room = args[0], args[1]
			case space:
				return cli.Usagef("link-category --space takes <room>, got %d arguments", len(args))
			default:
				return cli.Usagef("link-category takes <category-slug> <room>, got %d arguments", len(args))
			}
			return withForum(ctx, configPath, func(ctx context.Context, forumApp *app) error {
				return linkRoom(ctx, forumApp, slug, room, os.Stdout)
			})
		},
	}
}

func hashPasswordCommand() *cli.Command {
	var cost int
	return &cli.Command{
		Name:    "hash-password",
		Summary: "print a bcrypt hash for a users[].password_hash entry",
		Description: "Read a password (prompted without echo on a terminal, the first line of\n" +
			"stdin otherwise) and print its bcrypt hash.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("hash-password", pflag.ContinueOnError)
			flagSet.IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Usagef("hash-password takes no arguments; the password is read from stdin")
			}
			return hashPassword(os.Stdin, os.Stdout, os.Stderr, cost)
		},
	}
}

func mintTokenCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:        "mint-token",
		Summary:     "issue a forum access token for a configured user",
		Usage:       "morum mint-token [flags] <username>",
		Description: "Sign an access token with the server's key without a password login.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Usagef("mint-token takes <username>, got %d arguments", len(args))
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return mintToken(cfg, args[0], os.Stdout, cli.NewCommandLogger(slog.LevelInfo))
		},
	}
}

func sealTokenCommand() *cli.Command {
	var recipients []string
	var armored bool
	return &cli.Command{
		Name:    "seal-token",
		Summary: "encrypt a homeserver access token for account.access_token_file",
		Description: "Read a homeserver access token from stdin and write it encrypted to the\n" +
			"given age recipients. Point account.age_identity_file at a matching identity.",
		Examples: []cli.Example{
			{Command: "morum seal-token --recipient age1... < token > token.age"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal-token", pflag.ContinueOnError)
			flagSet.StringSliceVarP(&recipients, "recipient", "r", nil, "age recipient public key (repeatable)")
			flagSet.BoolVar(&armored, "armor", true, "write PEM-armored text instead of binary")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Usagef("seal-token takes no arguments; the token is read from stdin")
			}
			return sealToken(os.Stdin, os.Stdout, os.Stderr, recipients, armored)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(context.Context, []string) error {
			version.Print(os.Stdout, "morum")
			return nil
		},
	}
}
