// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package reconcile applies provider delivery receipts to stored outbound
// messages. Receipts carry no tenant ID, so the reconciler first consults
// the send-time mapping cache and only then falls back to scanning every
// tenant store, stopping at the first match.
package reconcile

import (
	"context"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/mapping"
	"github.com/steeplehq/steeple/internal/metrics"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/tenant"
)

// Result describes what a receipt did.
type Result string

const (
	// ResultApplied means exactly one message was updated.
	ResultApplied Result = "applied"

	// ResultIgnored means the provider status is not terminal.
	ResultIgnored Result = "ignored"

	// ResultUnmatched means no tenant store holds the message; the
	// receipt is acknowledged and dropped.
	ResultUnmatched Result = "unmatched"
)

// Reconciler applies delivery receipts across tenant stores.
type Reconciler struct {
	resolver *tenant.Resolver
	cache    *mapping.Cache
}

// New builds a reconciler. cache may be nil, forcing full scans.
func New(resolver *tenant.Resolver, cache *mapping.Cache) *Reconciler {
	return &Reconciler{resolver: resolver, cache: cache}
}

// mapStatus translates the provider's status vocabulary to the internal
// delivery set. The empty return means "not terminal yet".
func mapStatus(providerStatus string) model.DeliveryStatus {
	switch providerStatus {
	case "delivered":
		return model.DeliveryDelivered
	case "failed", "undelivered", "rejected":
		return model.DeliveryFailed
	default:
		return ""
	}
}

// Apply routes one receipt to the owning tenant's message.
func (r *Reconciler) Apply(ctx context.Context, providerMessageID, providerStatus string) (Result, error) {
	status := mapStatus(providerStatus)
	if status == "" {
		logging.Ctx(ctx).Debug().
			Str("component", "reconcile").
			Str("provider_message_id", providerMessageID).
			Str("status", logging.Sanitize(providerStatus)).
			Msg("Non-terminal delivery status, ignoring")
		return ResultIgnored, nil
	}

	// Fast path: send-time mapping.
	if tenantID := r.cache.LookupTenant(ctx, providerMessageID); tenantID != "" {
		matched, err := r.applyToTenant(ctx, tenantID, providerMessageID, status)
		if err == nil && matched {
			metrics.ReconcileScannedTenants.Observe(0)
			return ResultApplied, nil
		}
		// A stale or wrong mapping falls through to the scan.
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("component", "reconcile").
				Str("tenant_id", tenantID).
				Msg("Cached mapping lookup failed, falling back to scan")
		}
	}

	return r.scan(ctx, providerMessageID, status)
}

// scan walks all tenants sequentially, short-circuiting on the first match.
// One tenant's store failure never aborts the scan.
func (r *Reconciler) scan(ctx context.Context, providerMessageID string, status model.DeliveryStatus) (Result, error) {
	tenants, err := r.resolver.EnumerateTenants(ctx)
	if err != nil {
		return ResultUnmatched, err
	}

	scanned := 0
	for _, tn := range tenants {
		scanned++
		matched, err := r.applyToTenant(ctx, tn.ID, providerMessageID, status)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("component", "reconcile").
				Str("tenant_id", tn.ID).
				Msg("Tenant store unavailable during receipt scan, continuing")
			continue
		}
		if matched {
			metrics.ReconcileScannedTenants.Observe(float64(scanned))
			// Backfill the mapping so a late duplicate receipt takes
			// the fast path.
			r.cache.StoreTenant(ctx, providerMessageID, tn.ID)
			logging.Ctx(ctx).Info().
				Str("component", "reconcile").
				Str("tenant_id", tn.ID).
				Str("provider_message_id", providerMessageID).
				Str("status", string(status)).
				Msg("Delivery receipt applied")
			return ResultApplied, nil
		}
	}

	metrics.ReconcileScannedTenants.Observe(float64(scanned))
	logging.Ctx(ctx).Debug().
		Str("component", "reconcile").
		Str("provider_message_id", providerMessageID).
		Msg("Receipt matched no tenant store, dropping")
	return ResultUnmatched, nil
}

func (r *Reconciler) applyToTenant(ctx context.Context, tenantID, providerMessageID string, status model.DeliveryStatus) (bool, error) {
	store, err := r.resolver.StoreFor(tenantID)
	if err != nil {
		return false, err
	}
	return store.UpdateDeliveryStatus(ctx, providerMessageID, status)
}
