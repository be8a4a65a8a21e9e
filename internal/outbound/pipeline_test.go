// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package outbound

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/steeplehq/steeple/internal/breaker"
	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/provider"
	"github.com/steeplehq/steeple/internal/registry"
	"github.com/steeplehq/steeple/internal/retry"
)

// fakeSender scripts provider responses per attempt.
type fakeSender struct {
	calls   int
	results []error
	id      string
}

func (f *fakeSender) Send(context.Context, provider.SendRequest) (*provider.SendResult, error) {
	f.calls++
	var err error
	if f.calls-1 < len(f.results) {
		err = f.results[f.calls-1]
	}
	if err != nil {
		return nil, err
	}
	if f.id == "" {
		f.id = "prov-ok"
	}
	return &provider.SendResult{ProviderMessageID: f.id}, nil
}

func fastConfig() Config {
	return Config{
		RatePerSecond: 1000,
		Burst:         1000,
		Retry: retry.Config{
			MaxRetries:        2,
			InitialDelay:      time.Microsecond,
			MaxDelay:          time.Millisecond,
			BackoffMultiplier: 2,
			JitterFactor:      0,
		},
		Breaker: breaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute},
	}
}

func newTestDLQ(t *testing.T) *deadletter.Store {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return deadletter.NewStore(reg.DB())
}

func TestPipeline_SuccessFirstAttempt(t *testing.T) {
	sender := &fakeSender{}
	p := NewPipeline(fastConfig(), sender, newTestDLQ(t), nil, nil)

	res, err := p.Send(context.Background(), SendJob{TenantID: "t1", Request: provider.SendRequest{To: "+1"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != "prov-ok" {
		t.Errorf("id: %s", res.ProviderMessageID)
	}
	if sender.calls != 1 {
		t.Errorf("calls: %d", sender.calls)
	}
}

func TestPipeline_RetriesTransientThenSucceeds(t *testing.T) {
	transient := retry.Transient(&provider.StatusError{StatusCode: 503})
	sender := &fakeSender{results: []error{transient, transient, nil}}
	dlq := newTestDLQ(t)
	p := NewPipeline(fastConfig(), sender, dlq, nil, nil)

	if _, err := p.Send(context.Background(), SendJob{TenantID: "t1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.calls != 3 {
		t.Errorf("calls: %d, want 3", sender.calls)
	}

	stats, _ := dlq.Stats(context.Background())
	if stats.Pending != 0 {
		t.Errorf("no dead letter expected, got %d pending", stats.Pending)
	}
}

func TestPipeline_ExhaustedRetriesDeadLetters(t *testing.T) {
	transient := retry.Transient(&provider.StatusError{StatusCode: 503})
	sender := &fakeSender{results: []error{transient, transient, transient}}
	dlq := newTestDLQ(t)
	p := NewPipeline(fastConfig(), sender, dlq, nil, nil)

	_, err := p.Send(context.Background(), SendJob{TenantID: "t1", MessageID: "m1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if sender.calls != 3 {
		t.Errorf("calls: %d, want 3 (initial + 2 retries)", sender.calls)
	}

	entries, listErr := dlq.List(context.Background(), model.DeadLetterPending, 10)
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}
	if entries[0].Category != model.CategorySendFailure {
		t.Errorf("category: %s", entries[0].Category)
	}
	if entries[0].TenantID != "t1" {
		t.Errorf("tenant: %s", entries[0].TenantID)
	}
	if entries[0].RetryCount != 2 {
		t.Errorf("retryCount: got %d, want 2", entries[0].RetryCount)
	}
}

func TestPipeline_PermanentFailureNoRetry(t *testing.T) {
	perm := retry.Permanent(&provider.StatusError{StatusCode: 400})
	sender := &fakeSender{results: []error{perm}}
	dlq := newTestDLQ(t)
	p := NewPipeline(fastConfig(), sender, dlq, nil, nil)

	if _, err := p.Send(context.Background(), SendJob{TenantID: "t1"}); err == nil {
		t.Fatal("expected error")
	}
	if sender.calls != 1 {
		t.Errorf("calls: %d, want 1", sender.calls)
	}

	entries, _ := dlq.List(context.Background(), model.DeadLetterPending, 10)
	if len(entries) != 1 {
		t.Errorf("permanent failures are still dead-lettered, got %d", len(entries))
	}
}

func TestPipeline_OpenCircuitFailsFast(t *testing.T) {
	transient := retry.Transient(errors.New("down"))
	cfg := fastConfig()
	cfg.Breaker = breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute}
	sender := &fakeSender{results: []error{transient, transient, transient, transient}}
	dlq := newTestDLQ(t)
	p := NewPipeline(cfg, sender, dlq, nil, nil)

	// First send trips the breaker on its initial attempt; the retry sees
	// ErrCircuitOpen and stops.
	if _, err := p.Send(context.Background(), SendJob{TenantID: "t1"}); err == nil {
		t.Fatal("expected error")
	}
	callsAfterFirst := sender.calls

	_, err := p.Send(context.Background(), SendJob{TenantID: "t1"})
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if sender.calls != callsAfterFirst {
		t.Errorf("provider called while circuit open")
	}
}

func TestPipeline_ReplayDoesNotReDeadLetter(t *testing.T) {
	transient := retry.Transient(errors.New("still down"))
	sender := &fakeSender{results: []error{transient, transient, transient}}
	dlq := newTestDLQ(t)
	p := NewPipeline(fastConfig(), sender, dlq, nil, nil)

	if _, err := p.Replay(context.Background(), SendJob{TenantID: "t1"}); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := dlq.List(context.Background(), "", 10)
	if len(entries) != 0 {
		t.Errorf("replay must not create dead letters, got %d", len(entries))
	}
}
