// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"testing"
	"time"
)

// testKeys generates a signing keypair and a verifier pinned to a fixed clock.
func testKeys(t *testing.T, now time.Time) (ed25519.PrivateKey, *Verifier) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	v, err := NewVerifier(base64.StdEncoding.EncodeToString(pub), DefaultTolerance)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	v.now = func() time.Time { return now }
	return priv, v
}

func sign(priv ed25519.PrivateKey, timestamp string, body []byte) string {
	msg := append([]byte(timestamp+"|"), body...)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
}

func TestNewVerifier_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "***"},
		{"wrong size", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewVerifier(tc.key, 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Now()
	priv, v := testKeys(t, now)

	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"event_type":"message.received"}`)

	if !v.Verify(sign(priv, ts, body), ts, body) {
		t.Error("expected valid signature to verify")
	}
}

func TestVerify_Rejections(t *testing.T) {
	now := time.Now()
	priv, v := testKeys(t, now)

	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"event_type":"message.received"}`)
	goodSig := sign(priv, ts, body)

	otherPriv, _ := testKeys(t, now)

	tests := []struct {
		name      string
		signature string
		timestamp string
		body      []byte
	}{
		{"missing signature", "", ts, body},
		{"missing timestamp", goodSig, "", body},
		{"garbage signature", "!!!", ts, body},
		{"tampered body", goodSig, ts, []byte(`{"event_type":"tampered"}`)},
		{"wrong key", sign(otherPriv, ts, body), ts, body},
		{"timestamp mismatch", goodSig, strconv.FormatInt(now.Unix()+1, 10), body},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if v.Verify(tc.signature, tc.timestamp, tc.body) {
				t.Error("expected verification to fail")
			}
		})
	}
}

func TestVerify_ReplayWindow(t *testing.T) {
	now := time.Now()
	priv, v := testKeys(t, now)
	body := []byte(`{}`)

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"fresh", 0, true},
		{"within window past", -4 * time.Minute, true},
		{"within window future", 4 * time.Minute, true},
		{"too old", -6 * time.Minute, false},
		{"too far in future", 6 * time.Minute, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := strconv.FormatInt(now.Add(tc.offset).Unix(), 10)
			got := v.Verify(sign(priv, ts, body), ts, body)
			if got != tc.want {
				t.Errorf("offset %v: got %v want %v", tc.offset, got, tc.want)
			}
		})
	}
}
