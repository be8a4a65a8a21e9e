// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/steeplehq/steeple/internal/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreateTenant_GeneratesID(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	tenant := &model.Tenant{Name: "First Church", Phone: "+15551230001"}
	if err := r.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if tenant.ID == "" {
		t.Error("expected generated ID")
	}
	if tenant.CreatedAt.IsZero() {
		t.Error("expected CreatedAt set")
	}
}

func TestCreateTenant_DuplicatePhone(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.CreateTenant(ctx, &model.Tenant{Name: "A", Phone: "+15551230001"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := r.CreateTenant(ctx, &model.Tenant{Name: "B", Phone: "+15551230001"})
	if !errors.Is(err, ErrTenantExists) {
		t.Fatalf("expected ErrTenantExists, got %v", err)
	}
}

func TestFindTenantByPhone(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	want := &model.Tenant{Name: "Grace Chapel", Phone: "+15551230002"}
	if err := r.CreateTenant(ctx, want); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	got, err := r.FindTenantByPhone(ctx, "+15551230002")
	if err != nil {
		t.Fatalf("FindTenantByPhone: %v", err)
	}
	if got == nil || got.ID != want.ID || got.Name != want.Name {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFindTenantByPhone_MissReturnsNilNil(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.FindTenantByPhone(context.Background(), "+19990000000")
	if err != nil {
		t.Fatalf("FindTenantByPhone: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil tenant on miss, got %+v", got)
	}
}

func TestListTenants(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for _, phone := range []string{"+15551230001", "+15551230002", "+15551230003"} {
		if err := r.CreateTenant(ctx, &model.Tenant{Name: "T" + phone, Phone: phone}); err != nil {
			t.Fatalf("CreateTenant(%s): %v", phone, err)
		}
	}

	tenants, err := r.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants: %v", err)
	}
	if len(tenants) != 3 {
		t.Errorf("got %d tenants, want 3", len(tenants))
	}
}
