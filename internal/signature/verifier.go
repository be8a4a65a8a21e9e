// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package signature authenticates provider webhook deliveries. The provider
// signs `timestamp|rawBody` with Ed25519 and sends the signature and the
// timestamp in request headers; verification is fail-closed, so any missing
// input, malformed encoding, or stale timestamp rejects the request.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/steeplehq/steeple/internal/logging"
)

const (
	// HeaderSignature carries the base64 Ed25519 signature.
	HeaderSignature = "X-Provider-Signature"

	// HeaderTimestamp carries the Unix-seconds signing timestamp.
	HeaderTimestamp = "X-Provider-Timestamp"

	// DefaultTolerance is the replay window around the signing timestamp.
	DefaultTolerance = 5 * time.Minute
)

// Verifier checks provider webhook signatures against a configured
// Ed25519 public key.
type Verifier struct {
	publicKey ed25519.PublicKey
	tolerance time.Duration

	// now is injectable for replay-window tests.
	now func() time.Time
}

// NewVerifier parses a base64-encoded raw Ed25519 public key. A zero
// tolerance selects DefaultTolerance.
func NewVerifier(publicKeyB64 string, tolerance time.Duration) (*Verifier, error) {
	if publicKeyB64 == "" {
		return nil, fmt.Errorf("webhook public key not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding webhook public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("webhook public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		publicKey: ed25519.PublicKey(raw),
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

// Verify reports whether signatureB64 is a valid signature over
// `timestamp|body` and the timestamp falls inside the replay window.
// The window is only checked after the signature proves the timestamp
// is provider-issued, so attackers cannot probe clock skew with
// unsigned requests.
func (v *Verifier) Verify(signatureB64, timestamp string, body []byte) bool {
	if signatureB64 == "" || timestamp == "" {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	signed := make([]byte, 0, len(timestamp)+1+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, '|')
	signed = append(signed, body...)

	if !ed25519.Verify(v.publicKey, signed, sig) {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		logging.Warn().
			Str("component", "signature").
			Int64("timestamp", ts).
			Dur("age", age).
			Msg("Webhook signature valid but timestamp outside replay window")
		return false
	}
	return true
}
