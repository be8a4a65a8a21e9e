// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steeplehq/steeple/internal/breaker"
	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/inbound"
	"github.com/steeplehq/steeple/internal/middleware"
	"github.com/steeplehq/steeple/internal/outbound"
	"github.com/steeplehq/steeple/internal/privacy"
	"github.com/steeplehq/steeple/internal/reconcile"
	"github.com/steeplehq/steeple/internal/registry"
	"github.com/steeplehq/steeple/internal/signature"
	"github.com/steeplehq/steeple/internal/tenant"
)

// Config tunes the HTTP surface.
type Config struct {
	// AuthSecret signs operator bearer tokens.
	AuthSecret string

	// WebhookRatePerMinute caps webhook deliveries per source IP.
	// Default: 600.
	WebhookRatePerMinute int

	// RequestTimeout bounds handler execution. Default: 30s.
	RequestTimeout time.Duration
}

// Server aggregates the handlers' collaborators.
type Server struct {
	cfg         Config
	verifier    *signature.Verifier
	processor   *inbound.Processor
	reconciler  *reconcile.Reconciler
	registry    *registry.Registry
	resolver    *tenant.Resolver
	vault       *privacy.PhoneVault
	sendService *outbound.Service
	pipeline    *outbound.Pipeline
	dlqStore    *deadletter.Store
	dlqWorker   *deadletter.Worker
}

// NewServer wires the HTTP layer.
func NewServer(
	cfg Config,
	verifier *signature.Verifier,
	processor *inbound.Processor,
	reconciler *reconcile.Reconciler,
	reg *registry.Registry,
	resolver *tenant.Resolver,
	vault *privacy.PhoneVault,
	sendService *outbound.Service,
	pipeline *outbound.Pipeline,
	dlqStore *deadletter.Store,
	dlqWorker *deadletter.Worker,
) *Server {
	if cfg.WebhookRatePerMinute <= 0 {
		cfg.WebhookRatePerMinute = 600
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		cfg:         cfg,
		verifier:    verifier,
		processor:   processor,
		reconciler:  reconciler,
		registry:    reg,
		resolver:    resolver,
		vault:       vault,
		sendService: sendService,
		pipeline:    pipeline,
		dlqStore:    dlqStore,
		dlqWorker:   dlqWorker,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Provider-facing webhooks: signature-authenticated, rate
		// limited per source IP.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.WebhookRatePerMinute, time.Minute))
			r.Post("/provider/webhook", s.handleProviderWebhook)
			r.Post("/provider/status", s.handleProviderStatus)
		})

		// Operator management API: bearer-token authenticated.
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(s.cfg.AuthSecret))

			r.Post("/tenants", s.handleCreateTenant)
			r.Get("/tenants", s.handleListTenants)
			r.Post("/tenants/{tenantID}/members", s.handleCreateMember)

			r.Post("/messages/send", s.handleSendMessage)

			r.Route("/deadletters", func(r chi.Router) {
				r.Get("/", s.handleListDeadLetters)
				r.Get("/stats", s.handleDeadLetterStats)
				r.Post("/cleanup", s.handleCleanupDeadLetters)
				r.Get("/{id}", s.handleGetDeadLetter)
				r.Post("/{id}/retry", s.handleRetryDeadLetter)
				r.Delete("/{id}", s.handleDeleteDeadLetter)
			})
		})
	})

	return r
}

// handleLive reports process liveness.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness includes the provider breaker snapshot so operators can see a
// degraded send path without grepping logs.
type readiness struct {
	Status  string          `json:"status"`
	Breaker breaker.Metrics `json:"providerBreaker"`
}

// handleReady reports readiness: the registry must answer and the breaker
// state is surfaced (an open breaker degrades but does not fail readiness).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registry.ListTenants(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, CodeInternal, "registry unavailable")
		return
	}
	respondData(w, http.StatusOK, readiness{
		Status:  "ok",
		Breaker: s.pipeline.Breaker().Snapshot(),
	})
}
