// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package retry executes operations with exponential backoff and jitter.
// Failures are classified: transient errors are retried up to a budget,
// permanent errors and open-circuit rejections stop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/steeplehq/steeple/internal/breaker"
	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
)

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// default to transient so flaky dependencies get a second chance;
// open-circuit rejections are never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// Config tunes the backoff schedule.
type Config struct {
	// MaxRetries is the number of re-attempts after the initial try.
	MaxRetries int

	// InitialDelay seeds the exponential backoff.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff before jitter.
	MaxDelay time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64

	// JitterFactor spreads each delay uniformly within ±factor of itself.
	JitterFactor float64
}

// MessagingProfile is the schedule for outbound SMS sends: retry generously
// with short delays, since a redelivered text costs little and delivery
// matters more than latency.
func MessagingProfile() Config {
	return Config{
		MaxRetries:        4,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
	}
}

// PaymentProfile is the cautious schedule for billing-adjacent calls: few
// retries with long delays, since a duplicate charge is far worse than a
// slow one.
func PaymentProfile() Config {
	return Config{
		MaxRetries:        2,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.25,
	}
}

// Executor retries operations under one Config.
type Executor struct {
	cfg Config

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor, defaulting zero config fields sanely.
func NewExecutor(cfg Config) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		cfg.JitterFactor = 0.2
	}
	return &Executor{cfg: cfg, sleep: sleepCtx}
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn, retrying transient failures until the budget is spent.
// It returns nil on the first success, or the last error observed.
// The attempt counter passed to fn starts at 0.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(operation).Inc()
			delay := e.delayFor(attempt)
			logging.Ctx(ctx).Debug().
				Str("component", "retry").
				Str("operation", operation).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying after transient failure")
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// delayFor computes the jittered backoff before re-attempt n (n >= 1).
func (e *Executor) delayFor(attempt int) time.Duration {
	backoff := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.BackoffMultiplier, float64(attempt-1))
	backoff = math.Min(backoff, float64(e.cfg.MaxDelay))
	if e.cfg.JitterFactor > 0 {
		// Uniform in [backoff*(1-j), backoff*(1+j)].
		backoff *= 1 + e.cfg.JitterFactor*(2*rand.Float64()-1)
	}
	return time.Duration(backoff)
}
