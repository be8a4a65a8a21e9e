// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/steeplehq/steeple/internal/retry"
)

// SendRequest is one outbound SMS/MMS.
type SendRequest struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// SendResult is the provider's acknowledgement of an accepted send.
type SendResult struct {
	ProviderMessageID string `json:"id"`
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// SenderConfig configures the provider send client.
type SenderConfig struct {
	// BaseURL is the provider API root.
	BaseURL string

	// APIKey is the bearer token for the provider API.
	APIKey string

	// Timeout bounds each send attempt. Default: 10s.
	Timeout time.Duration
}

// Sender posts outbound messages to the provider's send API. Responses are
// classified for the retry layer: 429 and 5xx are transient, other 4xx are
// permanent.
type Sender struct {
	cfg    SenderConfig
	client *http.Client
}

// NewSender builds a provider send client.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send submits one message. Network failures and retryable statuses come
// back wrapped as transient; rejected requests as permanent.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encoding send request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("building send request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("posting to provider: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("reading provider response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(statusErr)
		}
		return nil, retry.Permanent(statusErr)
	}

	var result SendResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decoding provider response: %w", err))
	}
	if result.ProviderMessageID == "" {
		return nil, retry.Permanent(fmt.Errorf("provider accepted send without message id"))
	}
	return &result, nil
}
