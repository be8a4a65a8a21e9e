// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package notify pushes operator alerts (dead-lettered work, tripped
// provider circuit) to a chat-ops webhook. Delivery is best effort and
// guarded by its own circuit breaker so a dead chat endpoint cannot slow
// the messaging path.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/steeplehq/steeple/internal/logging"
)

// Alert is one operator notification.
type Alert struct {
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Labels  map[string]string `json:"labels,omitempty"`
	Time    time.Time         `json:"time"`
}

// Notifier posts alerts to a chat-ops webhook. A nil Notifier discards
// alerts, so callers never need to branch on configuration.
type Notifier struct {
	webhookURL string
	client     *http.Client
	cb         *gobreaker.CircuitBreaker[struct{}]
}

// New builds a notifier; empty webhookURL returns nil (alerts disabled).
func New(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "notify",
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("component", "notify").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Notifier circuit state change")
		},
	})
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		cb:         cb,
	}
}

// Send posts an alert. Failures are logged and dropped.
func (n *Notifier) Send(ctx context.Context, alert Alert) {
	if n == nil {
		return
	}
	if alert.Time.IsZero() {
		alert.Time = time.Now().UTC()
	}

	_, err := n.cb.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, alert)
	})
	if err != nil {
		logging.Ctx(ctx).Warn().
			Str("component", "notify").
			Str("title", alert.Title).
			Err(err).
			Msg("Operator alert not delivered")
	}
}

func (n *Notifier) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
