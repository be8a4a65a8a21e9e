// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package outbound

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/privacy"
	"github.com/steeplehq/steeple/internal/registry"
	"github.com/steeplehq/steeple/internal/retry"
	"github.com/steeplehq/steeple/internal/tenant"
)

const vaultSecret = "0123456789abcdef0123456789abcdef"

type serviceFixture struct {
	svc      *Service
	sender   *fakeSender
	dlq      *deadletter.Store
	resolver *tenant.Resolver
	tenantID string
	vault    *privacy.PhoneVault
	dataDir  string
}

func newServiceFixture(t *testing.T, sender *fakeSender) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.Open(filepath.Join(dir, "registry.db"))
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	tn := &model.Tenant{Name: "First Church", Phone: "+15551230001"}
	if err := reg.CreateTenant(context.Background(), tn); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	resolver := tenant.NewResolver(reg, dir)
	t.Cleanup(func() { resolver.Close() })

	vault, err := privacy.NewPhoneVault(vaultSecret)
	if err != nil {
		t.Fatalf("NewPhoneVault: %v", err)
	}

	dlq := deadletter.NewStore(reg.DB())
	pipeline := NewPipeline(fastConfig(), sender, dlq, nil, nil)

	return &serviceFixture{
		svc:      NewService(resolver, vault, pipeline),
		sender:   sender,
		dlq:      dlq,
		resolver: resolver,
		tenantID: tn.ID,
		vault:    vault,
		dataDir:  dir,
	}
}

func (f *serviceFixture) seedMember(t *testing.T, phone string, optedOut bool) *model.Member {
	t.Helper()
	store, err := f.resolver.StoreFor(f.tenantID)
	if err != nil {
		t.Fatalf("StoreFor: %v", err)
	}
	enc, _ := f.vault.Encrypt(phone)
	m := &model.Member{
		FirstName:      "Ada",
		LastName:       "L",
		PhoneHash:      f.vault.Hash(phone),
		PhoneEncrypted: enc,
		OptedOut:       optedOut,
	}
	if err := store.CreateMember(context.Background(), m); err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	return m
}

func TestSendMessage_PersistsAndSends(t *testing.T) {
	f := newServiceFixture(t, &fakeSender{id: "prov-out-1"})
	f.seedMember(t, "+15557654321", false)

	msg, err := f.svc.SendMessage(context.Background(), SendParams{
		TenantID: f.tenantID,
		ToPhone:  "+15557654321",
		Text:     "service moved to 10am",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ProviderMessageID != "prov-out-1" {
		t.Errorf("provider id: %s", msg.ProviderMessageID)
	}

	store, _ := f.resolver.StoreFor(f.tenantID)
	stored, err := store.FindMessageByProviderID(context.Background(), "prov-out-1")
	if err != nil {
		t.Fatalf("FindMessageByProviderID: %v", err)
	}
	if stored == nil || stored.Direction != model.DirectionOutbound {
		t.Fatalf("stored: %+v", stored)
	}
	if stored.DeliveryStatus != model.DeliveryPending {
		t.Errorf("delivery status: %s", stored.DeliveryStatus)
	}
}

func TestSendMessage_NonMemberRejected(t *testing.T) {
	f := newServiceFixture(t, &fakeSender{})

	_, err := f.svc.SendMessage(context.Background(), SendParams{
		TenantID: f.tenantID,
		ToPhone:  "+15550000000",
		Text:     "hello stranger",
	})
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if f.sender.calls != 0 {
		t.Error("provider must not be called for non-members")
	}
}

func TestSendMessage_UnknownTenantLeavesNoStoreFile(t *testing.T) {
	f := newServiceFixture(t, &fakeSender{})

	_, err := f.svc.SendMessage(context.Background(), SendParams{
		TenantID: "no-such-tenant",
		ToPhone:  "+15557654321",
		Text:     "hi",
	})
	if err == nil {
		t.Fatal("expected unknown-tenant error")
	}

	if _, statErr := os.Stat(filepath.Join(f.dataDir, "tenant-no-such-tenant.db")); !os.IsNotExist(statErr) {
		t.Fatalf("orphan store file created for unregistered tenant: %v", statErr)
	}
}

func TestSendMessage_OptedOutRejected(t *testing.T) {
	f := newServiceFixture(t, &fakeSender{})
	f.seedMember(t, "+15557654321", true)

	_, err := f.svc.SendMessage(context.Background(), SendParams{
		TenantID: f.tenantID,
		ToPhone:  "+15557654321",
		Text:     "hi",
	})
	if !errors.Is(err, ErrOptedOut) {
		t.Fatalf("expected ErrOptedOut, got %v", err)
	}
}

func TestSendMessage_FailedSendStaysPendingAndReplays(t *testing.T) {
	transient := retry.Transient(errors.New("503"))
	sender := &fakeSender{results: []error{transient, transient, transient}, id: "prov-late"}
	f := newServiceFixture(t, sender)
	f.seedMember(t, "+15557654321", false)

	msg, err := f.svc.SendMessage(context.Background(), SendParams{
		TenantID: f.tenantID,
		ToPhone:  "+15557654321",
		Text:     "eventually delivered",
	})
	if err == nil {
		t.Fatal("expected send failure")
	}
	if msg == nil || msg.ProviderMessageID != "" {
		t.Fatalf("message should exist without provider id: %+v", msg)
	}

	entries, _ := f.dlq.List(context.Background(), model.DeadLetterPending, 10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}

	// The provider recovers; replaying attaches the provider id.
	replay := f.svc.Replayer()
	if err := replay(context.Background(), entries[0]); err != nil {
		t.Fatalf("replay: %v", err)
	}

	store, _ := f.resolver.StoreFor(f.tenantID)
	stored, err := store.FindMessageByProviderID(context.Background(), "prov-late")
	if err != nil {
		t.Fatalf("FindMessageByProviderID: %v", err)
	}
	if stored == nil || stored.ID != msg.ID {
		t.Fatalf("replayed message not linked: %+v", stored)
	}
}
