// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package outbound is the send path: rate limit, retry with backoff,
// circuit breaker, provider call. Sends that exhaust their budget are
// dead-lettered with everything needed to replay them.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/steeplehq/steeple/internal/breaker"
	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/mapping"
	"github.com/steeplehq/steeple/internal/metrics"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/notify"
	"github.com/steeplehq/steeple/internal/provider"
	"github.com/steeplehq/steeple/internal/retry"
)

// Sender abstracts the provider send client.
type Sender interface {
	Send(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error)
}

// SendJob is one outbound send, self-contained so a dead-lettered copy can
// be replayed later. MessageID is the local message row awaiting its
// provider ID.
type SendJob struct {
	TenantID  string               `json:"tenantId"`
	MessageID string               `json:"messageId"`
	Request   provider.SendRequest `json:"request"`
}

// Config tunes the pipeline.
type Config struct {
	// RatePerSecond caps provider sends. Default: 10.
	RatePerSecond float64

	// Burst is the limiter burst size. Default: 20.
	Burst int

	// Retry is the backoff schedule for transient failures.
	Retry retry.Config

	// Breaker guards the provider.
	Breaker breaker.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RatePerSecond: 10,
		Burst:         20,
		Retry:         retry.MessagingProfile(),
		Breaker:       breaker.DefaultConfig(),
	}
}

// Pipeline pushes sends through limiter, retry and breaker. The dead letter
// store and mapping cache are optional; nil disables them.
type Pipeline struct {
	sender   Sender
	limiter  *rate.Limiter
	retrier  *retry.Executor
	breaker  *breaker.Breaker
	dlq      *deadletter.Store
	cache    *mapping.Cache
	notifier *notify.Notifier
}

// NewPipeline assembles the send path.
func NewPipeline(cfg Config, sender Sender, dlq *deadletter.Store, cache *mapping.Cache, notifier *notify.Notifier) *Pipeline {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &Pipeline{
		sender:   sender,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		retrier:  retry.NewExecutor(cfg.Retry),
		breaker:  breaker.New("provider", cfg.Breaker),
		dlq:      dlq,
		cache:    cache,
		notifier: notifier,
	}
}

// Breaker exposes the provider breaker for health reporting.
func (p *Pipeline) Breaker() *breaker.Breaker {
	return p.breaker
}

// Send pushes one job through the pipeline. On success the receipt mapping
// is cached; on final failure the job is dead-lettered and the error
// returned.
func (p *Pipeline) Send(ctx context.Context, job SendJob) (*provider.SendResult, error) {
	result, retries, err := p.attempt(ctx, job)
	if err != nil {
		p.deadLetter(ctx, job, err, retries)
		return nil, err
	}
	p.cache.StoreTenant(ctx, result.ProviderMessageID, job.TenantID)
	return result, nil
}

// Replay re-runs a job without dead-lettering again on failure; the dead
// letter worker owns the entry's lifecycle.
func (p *Pipeline) Replay(ctx context.Context, job SendJob) (*provider.SendResult, error) {
	result, _, err := p.attempt(ctx, job)
	if err != nil {
		return nil, err
	}
	p.cache.StoreTenant(ctx, result.ProviderMessageID, job.TenantID)
	return result, nil
}

// attempt reports how many retries were burned so the dead letter entry can
// record them.
func (p *Pipeline) attempt(ctx context.Context, job SendJob) (*provider.SendResult, int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	var result *provider.SendResult
	retries := 0
	err := p.retrier.Do(ctx, "provider-send", func(ctx context.Context, attempt int) error {
		retries = attempt
		return p.breaker.Execute(func() error {
			r, sendErr := p.sender.Send(ctx, job.Request)
			if sendErr != nil {
				return sendErr
			}
			result = r
			return nil
		})
	})
	metrics.ObserveSendDuration(time.Since(start))

	if err != nil {
		return nil, retries, err
	}
	return result, retries, nil
}

// deadLetter preserves a failed job and alerts operators.
func (p *Pipeline) deadLetter(ctx context.Context, job SendJob, cause error, retries int) {
	if p.dlq == nil {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("component", "outbound").Msg("Failed to encode send job for dead letter")
		return
	}
	if _, err := p.dlq.Add(ctx, model.CategorySendFailure, job.TenantID, payload, cause, retries); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("component", "outbound").Msg("Failed to dead-letter send job")
		return
	}

	title := "Outbound send dead-lettered"
	if errors.Is(cause, breaker.ErrCircuitOpen) {
		title = "Outbound send rejected by open circuit"
	}
	p.notifier.Send(ctx, notify.Alert{
		Title:   title,
		Message: cause.Error(),
		Labels:  map[string]string{"tenant_id": job.TenantID},
	})
}
