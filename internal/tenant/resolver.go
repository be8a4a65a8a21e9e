// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package tenant resolves which congregation owns a provider phone number
// and hands out that tenant's isolated store. Store handles are opened
// lazily and cached for the life of the process.
package tenant

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/registry"
	"github.com/steeplehq/steeple/internal/tenantstore"
)

// Resolver maps provider phone numbers to tenants and tenants to stores.
type Resolver struct {
	registry *registry.Registry
	dataDir  string

	mu     sync.Mutex
	stores map[string]*tenantstore.Store
}

// NewResolver builds a resolver whose tenant databases live under dataDir.
func NewResolver(reg *registry.Registry, dataDir string) *Resolver {
	return &Resolver{
		registry: reg,
		dataDir:  dataDir,
		stores:   make(map[string]*tenantstore.Store),
	}
}

// ResolveByPhone finds the tenant owning a provider phone number.
// Returns (nil, nil) when no tenant claims the number.
func (r *Resolver) ResolveByPhone(ctx context.Context, phone string) (*model.Tenant, error) {
	return r.registry.FindTenantByPhone(ctx, phone)
}

// Tenant fetches a tenant record by ID. Returns (nil, nil) when absent.
func (r *Resolver) Tenant(ctx context.Context, id string) (*model.Tenant, error) {
	return r.registry.GetTenant(ctx, id)
}

// StoreFor returns the tenant's store, opening it on first use.
func (r *Resolver) StoreFor(tenantID string) (*tenantstore.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[tenantID]; ok {
		return s, nil
	}

	path := filepath.Join(r.dataDir, fmt.Sprintf("tenant-%s.db", tenantID))
	s, err := tenantstore.Open(tenantID, path)
	if err != nil {
		return nil, fmt.Errorf("opening store for tenant %s: %w", tenantID, err)
	}
	r.stores[tenantID] = s

	logging.Debug().
		Str("component", "tenant").
		Str("tenant_id", tenantID).
		Msg("Tenant store opened")
	return s, nil
}

// EnumerateTenants lists every registered tenant, used by the delivery
// receipt reconciler's full scan.
func (r *Resolver) EnumerateTenants(ctx context.Context) ([]model.Tenant, error) {
	return r.registry.ListTenants(ctx)
}

// Close closes all cached tenant stores.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing store for tenant %s: %w", id, err)
		}
	}
	r.stores = make(map[string]*tenantstore.Store)
	return firstErr
}
