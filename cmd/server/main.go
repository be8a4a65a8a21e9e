// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Command server runs the Steeple gateway: provider webhooks in, tenant
// conversations stored, operator sends out.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/steeplehq/steeple/internal/api"
	"github.com/steeplehq/steeple/internal/breaker"
	"github.com/steeplehq/steeple/internal/config"
	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/inbound"
	"github.com/steeplehq/steeple/internal/jobs"
	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/mapping"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/notify"
	"github.com/steeplehq/steeple/internal/outbound"
	"github.com/steeplehq/steeple/internal/privacy"
	"github.com/steeplehq/steeple/internal/provider"
	"github.com/steeplehq/steeple/internal/reconcile"
	"github.com/steeplehq/steeple/internal/registry"
	"github.com/steeplehq/steeple/internal/retry"
	"github.com/steeplehq/steeple/internal/signature"
	"github.com/steeplehq/steeple/internal/supervisor"
	"github.com/steeplehq/steeple/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting Steeple gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Database.DataDir, 0o750); err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Database.DataDir).Msg("Failed to create data directory")
	}

	reg, err := registry.Open(filepath.Join(cfg.Database.DataDir, "registry.db"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open tenant registry")
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logging.Err(err).Msg("Error closing registry")
		}
	}()

	resolver := tenant.NewResolver(reg, cfg.Database.DataDir)
	defer func() {
		if err := resolver.Close(); err != nil {
			logging.Err(err).Msg("Error closing tenant stores")
		}
	}()

	vault, err := privacy.NewPhoneVault(cfg.Security.PhoneSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize phone vault")
	}

	verifier, err := signature.NewVerifier(cfg.Security.WebhookPublicKey, cfg.Security.WebhookTolerance)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize webhook verifier")
	}

	// The mapping cache is an optimization; a missing or unreachable Redis
	// degrades receipt reconciliation to full scans, it never blocks startup.
	var cache *mapping.Cache
	if cfg.Redis.Addr != "" {
		cache, err = mapping.New(ctx, mapping.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("Mapping cache unavailable, reconciliation will scan tenants")
			cache = nil
		} else {
			defer cache.Close()
			logging.Info().Str("addr", cfg.Redis.Addr).Msg("Mapping cache connected")
		}
	} else {
		logging.Info().Msg("Mapping cache disabled (no redis addr configured)")
	}

	notifier := notify.New(cfg.Notify.WebhookURL)
	if notifier != nil {
		logging.Info().Msg("Operator alerting enabled")
	}

	dlqStore := deadletter.NewStore(reg.DB())

	sender := provider.NewSender(provider.SenderConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	})

	pipeline := outbound.NewPipeline(outbound.Config{
		RatePerSecond: cfg.Outbound.RatePerSecond,
		Burst:         cfg.Outbound.Burst,
		Retry: retry.Config{
			MaxRetries:        cfg.Outbound.MaxRetries,
			InitialDelay:      cfg.Outbound.InitialDelay,
			MaxDelay:          cfg.Outbound.MaxDelay,
			BackoffMultiplier: cfg.Outbound.BackoffMultiplier,
			JitterFactor:      cfg.Outbound.JitterFactor,
		},
		Breaker: breaker.Config{
			FailureThreshold: cfg.Outbound.BreakerFailureThreshold,
			ResetTimeout:     cfg.Outbound.BreakerResetTimeout,
			HalfOpenProbes:   cfg.Outbound.BreakerHalfOpenProbes,
		},
	}, sender, dlqStore, cache, notifier)

	sendService := outbound.NewService(resolver, vault, pipeline)

	bus := jobs.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Err(err).Msg("Error closing job bus")
		}
	}()
	consumer := jobs.NewConsumer(bus, func(ctx context.Context, job jobs.AutoReplyJob) error {
		sendService.FireAndForget(ctx, job.TenantID, job.From, job.To, job.Text)
		return nil
	})

	processor := inbound.NewProcessor(resolver, vault, bus, dlqStore)
	reconciler := reconcile.New(resolver, cache)

	worker := deadletter.NewWorker(dlqStore, deadletter.WorkerConfig{
		Interval:    cfg.DeadLetter.Interval,
		BatchSize:   cfg.DeadLetter.BatchSize,
		MaxRetries:  cfg.DeadLetter.MaxRetries,
		BaseBackoff: cfg.DeadLetter.BaseBackoff,
		MaxBackoff:  cfg.DeadLetter.MaxBackoff,
		Retention:   cfg.DeadLetter.Retention,
	}, map[model.DeadLetterCategory]deadletter.Replayer{
		model.CategorySendFailure:    sendService.Replayer(),
		model.CategoryInboundFailure: processor.Replayer(),
	})

	srv := api.NewServer(api.Config{
		AuthSecret:           cfg.Security.AuthSecret,
		WebhookRatePerMinute: cfg.Server.WebhookRatePerMinute,
		RequestTimeout:       cfg.Server.RequestTimeout,
	}, verifier, processor, reconciler, reg, resolver, vault, sendService, pipeline, dlqStore, worker)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddPipelineService(worker)
	tree.AddPipelineService(consumer)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().
		Str("addr", httpServer.Addr).
		Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Gateway stopped gracefully")
}
