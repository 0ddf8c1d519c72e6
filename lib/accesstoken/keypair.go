// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// LoadKey reads an Ed25519 private key file. The file holds the 32-byte
// seed.
func LoadKey(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accesstoken: reading signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("accesstoken: signing key %s has %d bytes, want %d", path, len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadOrGenerateKey loads the signing key at path, or generates one and
// writes it with 0600 permissions when the file does not exist. A file
// that exists but cannot be loaded is an error, never overwritten.
// Returns whether a new key was generated.
func LoadOrGenerateKey(path string) (ed25519.PrivateKey, bool, error) {
	key, err := LoadKey(path)
	if err == nil {
		return key, false, nil
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, fs.ErrNotExist) {
		return nil, false, err
	}

	_, key, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, false, fmt.Errorf("accesstoken: generating signing key: %w", err)
	}
	if err := os.WriteFile(path, key.Seed(), 0600); err != nil {
		return nil, false, fmt.Errorf("accesstoken: writing signing key: %w", err)
	}
	return key, true, nil
}
