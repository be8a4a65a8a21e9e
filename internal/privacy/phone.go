// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package privacy protects member phone numbers at rest. Numbers are stored
// twice: an HMAC-SHA256 hash that supports equality lookups without exposing
// the number, and an AES-256-GCM ciphertext that can be decrypted when the
// plaintext is genuinely needed. Both keys are derived from a single
// operator-supplied secret via HKDF-SHA256 so tenants share one secret but
// hashing and encryption never share key material.
package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// minSecretLength is the minimum length of the operator secret.
	minSecretLength = 32

	keyLength = 32
)

// ErrSecretTooShort is returned when the configured secret is too weak.
var ErrSecretTooShort = fmt.Errorf("privacy secret must be at least %d bytes", minSecretLength)

// ErrInvalidCiphertext is returned when decryption input is malformed or
// fails authentication.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// PhoneVault hashes and encrypts phone numbers.
type PhoneVault struct {
	hashKey   []byte
	cipherKey []byte
}

// NewPhoneVault derives hashing and encryption keys from secret.
func NewPhoneVault(secret string) (*PhoneVault, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}

	hashKey, err := deriveKey(secret, "steeple:phone-hash:v1")
	if err != nil {
		return nil, fmt.Errorf("deriving hash key: %w", err)
	}
	cipherKey, err := deriveKey(secret, "steeple:phone-cipher:v1")
	if err != nil {
		return nil, fmt.Errorf("deriving cipher key: %w", err)
	}

	return &PhoneVault{hashKey: hashKey, cipherKey: cipherKey}, nil
}

// deriveKey expands the secret into a purpose-bound 256-bit key.
func deriveKey(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Hash returns a deterministic hex-encoded HMAC-SHA256 of phone, suitable
// for indexed equality lookups.
func (v *PhoneVault) Hash(phone string) string {
	mac := hmac.New(sha256.New, v.hashKey)
	mac.Write([]byte(phone))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt returns a base64-encoded nonce||ciphertext AES-256-GCM sealing of
// phone. Each call produces a distinct ciphertext.
func (v *PhoneVault) Encrypt(phone string) (string, error) {
	block, err := aes.NewCipher(v.cipherKey)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(phone), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (v *PhoneVault) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(v.cipherKey)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
