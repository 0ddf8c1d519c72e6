// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/morum/lib/alias"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "MORUM_CONFIG"

// Mode selects where categories come from.
type Mode string

const (
	// Static reads categories from the configuration file.
	Static Mode = "static"
	// Space discovers categories as child rooms of the #forum space.
	Space Mode = "space"
)

// Config is the server configuration.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver's
	// client-server API.
	HomeserverURL string `yaml:"homeserver_url"`

	// ServerName is the Matrix server name forum aliases and user IDs
	// are bound to (e.g., "example.org").
	ServerName string `yaml:"server_name"`

	// Listen is the address the forum API listens on. Default: ":8080".
	Listen string `yaml:"listen"`

	// Mode is "static" or "space". Default: static.
	Mode Mode `yaml:"mode"`

	// LogLevel is debug, info, warn or error. Default: info.
	LogLevel string `yaml:"log_level"`

	Account AccountConfig `yaml:"account"`
	Tokens  TokenConfig   `yaml:"tokens"`

	// Users are the forum accounts allowed to log in.
	Users []UserConfig `yaml:"users"`

	// Categories is the category tree in static mode.
	Categories []CategoryConfig `yaml:"categories"`

	Sync SyncConfig `yaml:"sync"`

	// WriteRate limits comment and post creation across all clients.
	WriteRate RateConfig `yaml:"write_rate"`

	// PostVisibilityTimeout bounds how long creating a post waits for
	// the new room to appear in the synced room cache. Default: 10s.
	PostVisibilityTimeout time.Duration `yaml:"post_visibility_timeout"`
}

// AccountConfig configures the Matrix account the server acts as.
// Exactly one of PasswordFile and AccessTokenFile is set.
type AccountConfig struct {
	// Appservice marks AccessTokenFile as an application service
	// token. Comment authors are then registered as their own Matrix
	// users and posted as; otherwise everything is posted as the
	// service account.
	Appservice bool `yaml:"appservice"`

	// Username and PasswordFile log in with a password.
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`

	// AccessTokenFile holds an access token. When AgeIdentityFile is
	// set the file is age-encrypted to that identity.
	AccessTokenFile string `yaml:"access_token_file"`
	AgeIdentityFile string `yaml:"age_identity_file"`
}

// TokenConfig configures forum access tokens.
type TokenConfig struct {
	// SigningKeyFile holds the Ed25519 seed tokens are signed with. It
	// is generated on first start when missing.
	SigningKeyFile string `yaml:"signing_key_file"`

	// TTL is the token lifetime. Default: 168h.
	TTL time.Duration `yaml:"ttl"`
}

// UserConfig is one forum login.
type UserConfig struct {
	Username string `yaml:"username"`

	// PasswordHash is a bcrypt hash, as printed by `morum hash-password`.
	PasswordHash string `yaml:"password_hash"`
}

// CategoryConfig is a static category.
type CategoryConfig struct {
	Title         string              `yaml:"title"`
	Topic         string              `yaml:"topic"`
	RoomLocalID   string              `yaml:"room_local_id"`
	Subcategories []SubcategoryConfig `yaml:"subcategories"`
}

// SubcategoryConfig is a static subcategory. An absent or null ID is
// the uncategorized bucket.
type SubcategoryConfig struct {
	ID    *string `yaml:"id"`
	Title string  `yaml:"title"`
	Topic string  `yaml:"topic"`
}

// SyncConfig configures the background /sync loop.
type SyncConfig struct {
	// TimeoutMS is the long-poll timeout. Default: 30000.
	TimeoutMS int `yaml:"timeout_ms"`

	// MaxBackoff caps the retry backoff. Default: 30s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// FullState requests complete room state on every sync.
	FullState bool `yaml:"full_state"`

	// Interval is the pause between full-state syncs. Default: 5s.
	Interval time.Duration `yaml:"interval"`

	// AcceptInvites joins rooms the account is invited to.
	AcceptInvites bool `yaml:"accept_invites"`
}

// RateConfig is a token bucket.
type RateConfig struct {
	// PerSecond is the sustained rate. Zero disables limiting.
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Default returns the configuration every file is decoded over.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Mode:     Static,
		LogLevel: "info",
		Tokens: TokenConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Sync: SyncConfig{
			TimeoutMS:  30000,
			MaxBackoff: 30 * time.Second,
			Interval:   5 * time.Second,
		},
		WriteRate: RateConfig{
			PerSecond: 1,
			Burst:     5,
		},
		PostVisibilityTimeout: 10 * time.Second,
	}
}

// Load loads the file named by MORUM_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your morum config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := cfg.decode(data, filepath.Ext(path)); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.expandVariables(filepath.Dir(absolute))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// decode merges data over c. JSON is a subset of YAML, so JSONC is
// reduced to JSON and read by the same strict YAML decoder.
func (c *Config) decode(data []byte, extension string) error {
	switch strings.ToLower(extension) {
	case ".yaml", ".yml":
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml, .json or .jsonc)", extension)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("config file is empty")
		}
		return err
	}
	return nil
}

// expandVariables expands ${VAR} patterns in path fields.
func (c *Config) expandVariables(configDir string) {
	vars := map[string]string{
		"CONFIG_DIR": configDir,
		"HOME":       os.Getenv("HOME"),
	}
	c.Account.PasswordFile = expandVars(c.Account.PasswordFile, vars)
	c.Account.AccessTokenFile = expandVars(c.Account.AccessTokenFile, vars)
	c.Account.AgeIdentityFile = expandVars(c.Account.AgeIdentityFile, vars)
	c.Tokens.SigningKeyFile = expandVars(c.Tokens.SigningKeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Provided vars take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("homeserver_url is required"))
	} else if parsed, err := url.Parse(c.HomeserverURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver_url must be an http or https URL, got %q", c.HomeserverURL))
	}
	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("server_name is required"))
	}
	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	errs = append(errs, c.Account.validate()...)

	if c.Tokens.SigningKeyFile == "" {
		errs = append(errs, fmt.Errorf("tokens.signing_key_file is required"))
	}
	if c.Tokens.TTL <= 0 {
		errs = append(errs, fmt.Errorf("tokens.ttl must be positive"))
	}

	// Usernames map to Matrix localparts case-insensitively, so two
	// entries differing only in case would share one Matrix account.
	localparts := make(map[string]string)
	for i, user := range c.Users {
		localpart := alias.UserLocalpart(user.Username)
		if user.Username == "" {
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
		} else if previous, taken := localparts[localpart]; taken && previous == user.Username {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, user.Username))
		} else if taken {
			errs = append(errs, fmt.Errorf("users[%d]: username %q collides with %q as Matrix user %s", i, user.Username, previous, localpart))
		} else {
			localparts[localpart] = user.Username
		}
		if !strings.HasPrefix(user.PasswordHash, "$2") {
			errs = append(errs, fmt.Errorf("users[%d]: password_hash must be a bcrypt hash", i))
		}
	}

	switch c.Mode {
	case Static:
		errs = append(errs, validateCategories(c.Categories)...)
	case Space:
		if len(c.Categories) > 0 {
			errs = append(errs, fmt.Errorf("categories are only read in static mode; space mode discovers them from the #forum space"))
		}
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", Static, Space, c.Mode))
	}

	if c.Sync.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("sync.timeout_ms must be positive"))
	}
	if c.Sync.MaxBackoff < time.Second {
		errs = append(errs, fmt.Errorf("sync.max_backoff must be at least 1s"))
	}
	if c.Sync.FullState && c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive with sync.full_state"))
	}
	if c.WriteRate.PerSecond < 0 {
		errs = append(errs, fmt.Errorf("write_rate.per_second must not be negative"))
	}
	if c.WriteRate.PerSecond > 0 && c.WriteRate.Burst < 1 {
		errs = append(errs, fmt.Errorf("write_rate.burst must be at least 1"))
	}
	if c.PostVisibilityTimeout < 0 {
		errs = append(errs, fmt.Errorf("post_visibility_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func (a AccountConfig) validate() []error {
	var errs []error
	switch {
	case a.PasswordFile != "" && a.AccessTokenFile != "":
		errs = append(errs, fmt.Errorf("account: set password_file or access_token_file, not both"))
	case a.PasswordFile != "":
		if a.Username == "" {
			errs = append(errs, fmt.Errorf("account.username is required with password_file"))
		}
		if a.Appservice {
			errs = append(errs, fmt.Errorf("account.appservice requires access_token_file (the as_token)"))
		}
		if a.AgeIdentityFile != "" {
			errs = append(errs, fmt.Errorf("account.age_identity_file only applies to access_token_file"))
		}
	case a.AccessTokenFile != "":
	default:
		errs = append(errs, fmt.Errorf("account: one of password_file or access_token_file is required"))
	}
	return errs
}

func validateCategories(categories []CategoryConfig) []error {
	var errs []error
	if len(categories) == 0 {
		errs = append(errs, fmt.Errorf("static mode requires at least one category"))
	}
	localIDs := make(map[string]bool)
	subcategoryIDs := make(map[string]bool)
	uncategorized := 0
	for i, category := range categories {
		if category.Title == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: title is required", i))
		}
		if category.RoomLocalID != "" {
			if localIDs[category.RoomLocalID] {
				errs = append(errs, fmt.Errorf("categories[%d]: duplicate room_local_id %q", i, category.RoomLocalID))
			}
			localIDs[category.RoomLocalID] = true
		}
		for j, subcategory := range category.Subcategories {
			if subcategory.Title == "" {
				errs = append(errs, fmt.Errorf("categories[%d].subcategories[%d]: title is required", i, j))
			}
			if subcategory.ID == nil {
				uncategorized++
				continue
			}
			id := *subcategory.ID
			switch {
			case id == "":
				errs = append(errs, fmt.Errorf("categories[%d].subcategories[%d]: id must be omitted, not empty, for the uncategorized bucket", i, j))
			case id == "uncategorized":
				errs = append(errs, fmt.Errorf("categories[%d].subcategories[%d]: id %q is reserved for the uncategorized bucket; omit the id", i, j, id))
			case subcategoryIDs[id]:
				errs = append(errs, fmt.Errorf("categories[%d].subcategories[%d]: duplicate id %q", i, j, id))
			}
			subcategoryIDs[id] = true
		}
	}
	if uncategorized > 1 {
		errs = append(errs, fmt.Errorf("at most one subcategory may omit its id, found %d", uncategorized))
	}
	return errs
}
