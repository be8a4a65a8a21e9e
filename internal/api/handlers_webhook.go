// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package api

import (
	"io"
	"net/http"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
	"github.com/steeplehq/steeple/internal/provider"
	"github.com/steeplehq/steeple/internal/signature"
)

// maxWebhookBody bounds provider webhook payloads.
const maxWebhookBody = 1 << 20

// webhookAck is the body the provider expects on any terminal outcome.
type webhookAck struct {
	Received bool `json:"received"`
}

// readVerified reads the raw body and checks the provider signature.
// Returns nil and writes the response itself on rejection.
func (s *Server) readVerified(w http.ResponseWriter, r *http.Request) []byte {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeMalformed, "unreadable request body")
		return nil
	}

	sig := r.Header.Get(signature.HeaderSignature)
	ts := r.Header.Get(signature.HeaderTimestamp)
	if !s.verifier.Verify(sig, ts, body) {
		metrics.RecordWebhookEvent("unknown", "rejected")
		logging.Ctx(r.Context()).Warn().
			Str("component", "api").
			Str("remote", r.RemoteAddr).
			Msg("Webhook signature verification failed")
		respondError(w, http.StatusUnauthorized, CodeBadSignature, "signature verification failed")
		return nil
	}
	return body
}

// handleProviderWebhook receives message events. Any terminal outcome after
// authentication acknowledges with 200 so the provider stops retrying.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body := s.readVerified(w, r)
	if body == nil {
		return
	}

	evt, err := provider.ParseEvent(body)
	if err != nil {
		metrics.RecordWebhookEvent("unknown", "malformed")
		respondError(w, http.StatusBadRequest, CodeMalformed, "unparseable webhook event")
		return
	}

	outcome, procErr := s.processor.Process(r.Context(), body, evt)
	if procErr != nil {
		// Dead-lettered by the processor; still acknowledged.
		logging.Ctx(r.Context()).Error().Err(procErr).
			Str("component", "api").
			Str("outcome", string(outcome)).
			Msg("Inbound event failed, dead-lettered and acknowledged")
	}
	respondJSON(w, http.StatusOK, webhookAck{Received: true})
}

// handleProviderStatus receives delivery receipts.
func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	body := s.readVerified(w, r)
	if body == nil {
		return
	}

	receipts, err := provider.ParseReceipts(body)
	if err != nil {
		metrics.RecordWebhookEvent(provider.EventStatusUpdated, "malformed")
		respondError(w, http.StatusBadRequest, CodeMalformed, "unparseable receipt envelope")
		return
	}

	for _, receipt := range receipts {
		result, applyErr := s.reconciler.Apply(r.Context(), receipt.ProviderMessageID, receipt.Status)
		metrics.RecordWebhookEvent(provider.EventStatusUpdated, string(result))
		if applyErr != nil {
			logging.Ctx(r.Context()).Error().Err(applyErr).
				Str("component", "api").
				Str("provider_message_id", receipt.ProviderMessageID).
				Msg("Receipt application failed, acknowledged anyway")
		}
	}
	respondJSON(w, http.StatusOK, webhookAck{Received: true})
}
