// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/privacy"
	"github.com/steeplehq/steeple/internal/provider"
	"github.com/steeplehq/steeple/internal/tenant"
)

// ErrNotMember is returned when the destination phone number does not
// belong to any member of the tenant.
var ErrNotMember = errors.New("recipient is not a member of this congregation")

// ErrOptedOut is returned when the member has opted out of messages.
var ErrOptedOut = errors.New("recipient has opted out")

// SendParams describes one tenant-originated message.
type SendParams struct {
	TenantID  string   `json:"tenantId" validate:"required"`
	ToPhone   string   `json:"toPhone" validate:"required,e164_phone"`
	Text      string   `json:"text" validate:"required,max=1600"`
	MediaURLs []string `json:"mediaUrls" validate:"omitempty,dive,url"`
}

// Service persists outbound messages and drives them through the pipeline.
type Service struct {
	resolver *tenant.Resolver
	vault    *privacy.PhoneVault
	pipeline *Pipeline
}

// NewService wires the send service.
func NewService(resolver *tenant.Resolver, vault *privacy.PhoneVault, pipeline *Pipeline) *Service {
	return &Service{resolver: resolver, vault: vault, pipeline: pipeline}
}

// SendMessage records an outbound message in the tenant's open conversation
// with the member and sends it. The message row is written before the
// provider call so a failed send stays visible as pending until its dead
// letter replays.
func (s *Service) SendMessage(ctx context.Context, params SendParams) (*model.ConversationMessage, error) {
	// Registry check first: opening a store creates its database file, and
	// an unregistered tenant ID must not leave one behind.
	tenantRec, err := s.resolver.Tenant(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}
	if tenantRec == nil {
		return nil, fmt.Errorf("tenant %s not registered", params.TenantID)
	}
	tn, err := s.resolver.StoreFor(params.TenantID)
	if err != nil {
		return nil, err
	}

	member, err := tn.FindMemberByPhoneHash(ctx, s.vault.Hash(params.ToPhone))
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotMember
	}
	if member.OptedOut {
		return nil, ErrOptedOut
	}

	conv, err := tn.FindOrCreateConversation(ctx, member.ID)
	if err != nil {
		return nil, err
	}

	msg := &model.ConversationMessage{
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Body:           params.Text,
		MediaURLs:      params.MediaURLs,
		DeliveryStatus: model.DeliveryPending,
	}
	if err := tn.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting outbound message: %w", err)
	}

	job := SendJob{
		TenantID:  params.TenantID,
		MessageID: msg.ID,
		Request: provider.SendRequest{
			From:      tenantRec.Phone,
			To:        params.ToPhone,
			Text:      params.Text,
			MediaURLs: params.MediaURLs,
		},
	}
	result, err := s.pipeline.Send(ctx, job)
	if err != nil {
		// The pipeline has dead-lettered the job; the stored message
		// stays pending until the replay succeeds.
		return msg, err
	}

	if err := tn.SetProviderMessageID(ctx, msg.ID, result.ProviderMessageID); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "outbound").
			Str("message_id", msg.ID).
			Msg("Failed to attach provider message id")
	}
	msg.ProviderMessageID = result.ProviderMessageID
	return msg, nil
}

// FireAndForget sends without persisting a conversation message, used for
// auto-replies. The caller gets no error; failures are dead-lettered.
func (s *Service) FireAndForget(ctx context.Context, tenantID, from, to, text string) {
	job := SendJob{
		TenantID: tenantID,
		Request: provider.SendRequest{
			From: from,
			To:   to,
			Text: text,
		},
	}
	if _, err := s.pipeline.Send(ctx, job); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("component", "outbound").
			Str("tenant_id", tenantID).
			Msg("Fire-and-forget send failed")
	}
}

// Replayer returns the dead letter replay function for send failures.
func (s *Service) Replayer() deadletter.Replayer {
	return func(ctx context.Context, entry model.DeadLetterEntry) error {
		var job SendJob
		if err := json.Unmarshal(entry.Payload, &job); err != nil {
			return fmt.Errorf("decoding send job: %w", err)
		}
		result, err := s.pipeline.Replay(ctx, job)
		if err != nil {
			return err
		}
		if job.MessageID != "" {
			tn, err := s.resolver.StoreFor(job.TenantID)
			if err != nil {
				return err
			}
			if err := tn.SetProviderMessageID(ctx, job.MessageID, result.ProviderMessageID); err != nil {
				return err
			}
		}
		return nil
	}
}
