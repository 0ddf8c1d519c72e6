// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/morum/lib/clock"
	"github.com/bureau-foundation/morum/lib/codec"
)

const signatureSize = ed25519.SignatureSize

// Claim is the signed payload of an access token.
type Claim struct {
	// Username is the forum username the token was issued to. The
	// Matrix identity posts are made under is derived from it.
	Username string `cbor:"1,keyasint"`

	// Expiry is a Unix timestamp (seconds) from which the token is no
	// longer accepted.
	Expiry uint64 `cbor:"2,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of minting.
	IssuedAt int64 `cbor:"3,keyasint,omitempty"`
}

// Errors returned by Verify.
var (
	ErrMalformed        = errors.New("accesstoken: malformed token")
	ErrInvalidSignature = errors.New("accesstoken: invalid signature")
	ErrExpired          = errors.New("accesstoken: token has expired")
)

var encoding = base64.RawURLEncoding

// Mint signs claim and returns the token string.
func Mint(privateKey ed25519.PrivateKey, claim Claim) (string, error) {
	if claim.Username == "" {
		return "", fmt.Errorf("accesstoken: claim has no username")
	}
	payload, err := codec.Marshal(claim)
	if err != nil {
		return "", fmt.Errorf("accesstoken: encoding claim: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], signature)
	return encoding.EncodeToString(raw), nil
}

// VerifyAt checks the signature and expiry of token against now and
// returns its claim.
func VerifyAt(publicKey ed25519.PublicKey, token string, now time.Time) (Claim, error) {
	raw, err := encoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) <= signatureSize {
		return Claim{}, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(raw))
	}
	splitPoint := len(raw) - signatureSize
	payload, signature := raw[:splitPoint], raw[splitPoint:]
	if !ed25519.Verify(publicKey, payload, signature) {
		return Claim{}, ErrInvalidSignature
	}

	var claim Claim
	if err := codec.Unmarshal(payload, &claim); err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claim.Username == "" {
		return Claim{}, fmt.Errorf("%w: no username", ErrMalformed)
	}
	if now.Unix() < 0 || uint64(now.Unix()) >= claim.Expiry {
		return Claim{}, ErrExpired
	}
	return claim, nil
}

// Issuer mints tokens with a fixed lifetime and verifies them.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
	clock      clock.Clock
}

// NewIssuer returns an Issuer for privateKey. ttl must be positive.
func NewIssuer(privateKey ed25519.PrivateKey, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("accesstoken: private key has %d bytes, want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("accesstoken: token lifetime must be positive, got %s", ttl)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Issuer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		ttl:        ttl,
		clock:      clk,
	}, nil
}

// Mint issues a token for username that expires after the issuer's
// lifetime.
func (i *Issuer) Mint(username string) (string, Claim, error) {
	now := i.clock.Now()
	claim := Claim{
		Username: username,
		Expiry:   uint64(now.Add(i.ttl).Unix()),
		IssuedAt: now.Unix(),
	}
	token, err := Mint(i.privateKey, claim)
	if err != nil {
		return "", Claim{}, err
	}
	return token, claim, nil
}

// Verify checks token against the issuer's key and clock.
func (i *Issuer) Verify(token string) (Claim, error) {
	return VerifyAt(i.publicKey, token, i.clock.Now())
}
