// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package inbound turns verified provider webhook events into conversation
// records. Every terminal outcome acknowledges the provider; failures after
// authentication are dead-lettered before the ack so no verified event is
// silently lost.
package inbound

import (
	"context"
	"errors"

	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/jobs"
	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/privacy"
	"github.com/steeplehq/steeple/internal/provider"
	"github.com/steeplehq/steeple/internal/tenant"
	"github.com/steeplehq/steeple/internal/tenantstore"
)

// Outcome is the terminal disposition of one inbound event. All outcomes
// are acknowledged to the provider with a 200.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnknownTenant Outcome = "unknown_tenant"
	OutcomeNonMember     Outcome = "non_member"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeFailed        Outcome = "failed"
)

// registerReply is sent once to senders who are not members of the
// receiving congregation.
const registerReply = "This number only receives messages from registered members. Please contact your church office to sign up."

// Processor handles message.received events.
type Processor struct {
	resolver *tenant.Resolver
	vault    *privacy.PhoneVault
	bus      *jobs.Bus
	dlq      *deadletter.Store
}

// NewProcessor wires the inbound pipeline. bus and dlq may be nil in tests;
// nil disables auto-replies and dead-lettering respectively.
func NewProcessor(resolver *tenant.Resolver, vault *privacy.PhoneVault, bus *jobs.Bus, dlq *deadletter.Store) *Processor {
	return &Processor{resolver: resolver, vault: vault, bus: bus, dlq: dlq}
}

// Process runs one parsed event through the pipeline and returns its
// terminal outcome. The returned error accompanies OutcomeFailed only and
// is for logging; the caller still acknowledges the provider.
func (p *Processor) Process(ctx context.Context, rawBody []byte, evt *provider.Event) (Outcome, error) {
	outcome, err := p.process(ctx, evt)
	metrics.RecordWebhookEvent(evt.Type, string(outcome))

	if outcome == OutcomeFailed {
		p.deadLetter(ctx, rawBody, err)
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, evt *provider.Event) (Outcome, error) {
	if evt.Type != provider.EventMessageReceived || evt.Message == nil {
		logging.Ctx(ctx).Debug().
			Str("component", "inbound").
			Str("event_type", logging.Sanitize(evt.Type)).
			Msg("Ignoring non-message event")
		return OutcomeIgnored, nil
	}
	msg := evt.Message

	tn, err := p.resolver.ResolveByPhone(ctx, msg.To)
	if err != nil {
		return OutcomeFailed, err
	}
	if tn == nil {
		logging.Ctx(ctx).Info().
			Str("component", "inbound").
			Str("to", logging.Sanitize(msg.To)).
			Msg("No tenant owns recipient number, acknowledging")
		return OutcomeUnknownTenant, nil
	}

	store, err := p.resolver.StoreFor(tn.ID)
	if err != nil {
		return OutcomeFailed, err
	}

	existing, err := store.FindMessageByProviderID(ctx, msg.ProviderMessageID)
	if err != nil {
		return OutcomeFailed, err
	}
	if existing != nil {
		logging.Ctx(ctx).Debug().
			Str("component", "inbound").
			Str("tenant_id", tn.ID).
			Str("provider_message_id", msg.ProviderMessageID).
			Msg("Duplicate delivery, acknowledging")
		return OutcomeDuplicate, nil
	}

	member, err := store.FindMemberByPhoneHash(ctx, p.vault.Hash(msg.From))
	if err != nil {
		return OutcomeFailed, err
	}
	if member == nil {
		p.sendRegisterReply(ctx, tn, msg.From)
		logging.Ctx(ctx).Info().
			Str("component", "inbound").
			Str("tenant_id", tn.ID).
			Msg("Sender is not a member, auto-reply queued")
		return OutcomeNonMember, nil
	}

	conv, err := store.FindOrCreateConversation(ctx, member.ID)
	if err != nil {
		return OutcomeFailed, err
	}

	record := &model.ConversationMessage{
		ConversationID:    conv.ID,
		Direction:         model.DirectionInbound,
		Body:              msg.Text,
		MediaURLs:         msg.MediaURLs,
		ProviderMessageID: msg.ProviderMessageID,
	}
	if err := store.AppendMessage(ctx, record); err != nil {
		// A concurrent delivery of the same event can win the insert
		// race; the unique index makes that a duplicate, not a failure.
		if errors.Is(err, tenantstore.ErrDuplicateMessage) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}

	logging.Ctx(ctx).Info().
		Str("component", "inbound").
		Str("tenant_id", tn.ID).
		Str("conversation_id", conv.ID).
		Str("provider_message_id", msg.ProviderMessageID).
		Int("media_count", len(msg.MediaURLs)).
		Msg("Inbound message recorded")
	return OutcomeProcessed, nil
}

// sendRegisterReply queues the one-time not-a-member auto-reply without
// blocking the webhook response.
func (p *Processor) sendRegisterReply(ctx context.Context, tn *model.Tenant, to string) {
	if p.bus == nil {
		return
	}
	p.bus.PublishAutoReply(ctx, jobs.AutoReplyJob{
		TenantID: tn.ID,
		From:     tn.Phone,
		To:       to,
		Text:     registerReply,
	})
}

// deadLetter captures a verified event that failed mid-pipeline, before the
// provider is acknowledged.
func (p *Processor) deadLetter(ctx context.Context, rawBody []byte, cause error) {
	if p.dlq == nil || cause == nil {
		return
	}
	if _, err := p.dlq.Add(ctx, model.CategoryInboundFailure, "", rawBody, cause, 0); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "inbound").
			Msg("Failed to dead-letter inbound event")
	}
}

// Replayer returns the dead letter replay function for inbound failures:
// re-parse the preserved raw body and run it through the pipeline again.
func (p *Processor) Replayer() deadletter.Replayer {
	return func(ctx context.Context, entry model.DeadLetterEntry) error {
		evt, err := provider.ParseEvent(entry.Payload)
		if err != nil {
			return err
		}
		outcome, procErr := p.process(ctx, evt)
		if outcome == OutcomeFailed {
			return procErr
		}
		return nil
	}
}
