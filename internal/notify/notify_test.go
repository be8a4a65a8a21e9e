// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
)

func TestSend_PostsAlert(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding alert: %v", err)
		}
	}))
	defer srv.Close()

	n := New(srv.URL)
	n.Send(context.Background(), Alert{
		Title:   "Provider circuit open",
		Message: "outbound sends failing fast",
		Labels:  map[string]string{"breaker": "provider"},
	})

	if got.Title != "Provider circuit open" {
		t.Errorf("title: %q", got.Title)
	}
	if got.Time.IsZero() {
		t.Error("expected timestamp to be stamped")
	}
}

func TestSend_NilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.Send(context.Background(), Alert{Title: "ignored"})
}

func TestSend_BreakerStopsHammeringDeadEndpoint(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL)
	for i := 0; i < 10; i++ {
		n.Send(context.Background(), Alert{Title: "noise"})
	}

	// The circuit opens after 3 consecutive failures; later sends are
	// rejected without reaching the endpoint.
	if h := hits.Load(); h > 4 {
		t.Errorf("endpoint hit %d times, breaker should have opened", h)
	}
}
