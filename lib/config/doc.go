// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the morum server configuration.
//
// Configuration is loaded from a single file named by either the
// MORUM_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no discovery. Files
// ending in .yaml or .yml are YAML; files ending in .json or .jsonc are
// JSON with comments and trailing commas allowed.
//
// Path fields may use ${HOME}, ${CONFIG_DIR} (the directory holding the
// config file) and ${VAR:-default}. No environment variable overrides a
// configured value.
//
// This package depends on no other morum packages.
package config
