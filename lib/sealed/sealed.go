// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/morum/lib/secret"
)

// LoadIdentities reads the age identities in path.
func LoadIdentities(path string) ([]age.Identity, error) {
	key, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity: %w", err)
	}
	defer key.Close()

	identities, err := age.ParseIdentities(bytes.NewReader(key.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// Seal encrypts plaintext to the given age recipients (age1... public
// keys). With armored set the output is PEM-style text.
func Seal(plaintext []byte, recipientKeys []string, armored bool) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	var output io.Writer = &ciphertext
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(&ciphertext)
		output = armorWriter
	}

	writer, err := age.Encrypt(output, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			return nil, fmt.Errorf("sealed: finalizing armor: %w", err)
		}
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext, binary or armored, into a protected buffer.
// Surrounding whitespace of the plaintext is dropped; an empty
// plaintext is an error.
func Open(ciphertext []byte, identities ...age.Identity) (*secret.Buffer, error) {
	var input io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		input = armor.NewReader(bufio.NewReader(bytes.NewReader(bytes.TrimSpace(ciphertext))))
	}

	reader, err := age.Decrypt(input, identities...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	defer clear(plaintext)

	trimmed := bytes.TrimSpace(plaintext)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("sealed: decrypted credential is empty")
	}
	return secret.NewFromBytes(trimmed)
}

// OpenFile decrypts the file at path.
func OpenFile(path string, identities ...age.Identity) (*secret.Buffer, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	buffer, err := Open(ciphertext, identities...)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return buffer, nil
}
