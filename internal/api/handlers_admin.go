// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steeplehq/steeple/internal/breaker"
	"github.com/steeplehq/steeple/internal/deadletter"
	"github.com/steeplehq/steeple/internal/model"
	"github.com/steeplehq/steeple/internal/outbound"
	"github.com/steeplehq/steeple/internal/registry"
	"github.com/steeplehq/steeple/internal/validation"
)

// createTenantRequest registers a congregation.
type createTenantRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Phone string `json:"phone" validate:"required,e164_phone"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeMalformed, "invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		respondValidation(w, verr)
		return
	}

	tn := &model.Tenant{Name: req.Name, Phone: req.Phone}
	if err := s.registry.CreateTenant(r.Context(), tn); err != nil {
		if errors.Is(err, registry.ErrTenantExists) {
			respondError(w, http.StatusConflict, CodeConflict, "phone number already registered")
			return
		}
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to create tenant")
		return
	}
	respondData(w, http.StatusCreated, tn)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.registry.ListTenants(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to list tenants")
		return
	}
	respondData(w, http.StatusOK, tenants)
}

// createMemberRequest registers a member under a tenant.
type createMemberRequest struct {
	FirstName string `json:"firstName" validate:"required,min=1,max=80"`
	LastName  string `json:"lastName" validate:"required,min=1,max=80"`
	Phone     string `json:"phone" validate:"required,e164_phone"`
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	tn, err := s.resolver.Tenant(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "tenant lookup failed")
		return
	}
	if tn == nil {
		respondError(w, http.StatusNotFound, CodeNotFound, "tenant not found")
		return
	}

	var req createMemberRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeMalformed, "invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		respondValidation(w, verr)
		return
	}

	store, err := s.resolver.StoreFor(tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "tenant store unavailable")
		return
	}
	encrypted, err := s.vault.Encrypt(req.Phone)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to protect phone number")
		return
	}
	member := &model.Member{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PhoneHash:      s.vault.Hash(req.Phone),
		PhoneEncrypted: encrypted,
	}
	if err := store.CreateMember(r.Context(), member); err != nil {
		respondError(w, http.StatusConflict, CodeConflict, "member with this phone already exists")
		return
	}
	respondData(w, http.StatusCreated, member)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var params outbound.SendParams
	if err := decodeBody(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, CodeMalformed, "invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(params); verr != nil {
		respondValidation(w, verr)
		return
	}

	msg, err := s.sendService.SendMessage(r.Context(), params)
	switch {
	case err == nil:
		respondData(w, http.StatusAccepted, msg)
	case errors.Is(err, outbound.ErrNotMember):
		respondError(w, http.StatusUnprocessableEntity, CodeNotMember, err.Error())
	case errors.Is(err, outbound.ErrOptedOut):
		respondError(w, http.StatusUnprocessableEntity, CodeOptedOut, err.Error())
	case errors.Is(err, breaker.ErrCircuitOpen):
		// The message row exists and is dead-lettered for replay.
		respondError(w, http.StatusServiceUnavailable, CodeCircuitOpen, "provider unavailable, message queued for retry")
	default:
		respondError(w, http.StatusBadGateway, CodeSendFailed, "send failed, message queued for retry")
	}
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := model.DeadLetterStatus(r.URL.Query().Get("status"))

	entries, err := s.dlqStore.List(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to list dead letters")
		return
	}
	respondData(w, http.StatusOK, entries)
}

func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := s.dlqStore.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			respondError(w, http.StatusNotFound, CodeNotFound, "dead letter entry not found")
			return
		}
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to load dead letter")
		return
	}
	respondData(w, http.StatusOK, entry)
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dlqWorker.ReplayNow(r.Context(), id); err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			respondError(w, http.StatusNotFound, CodeNotFound, "dead letter entry not found")
			return
		}
		respondError(w, http.StatusInternalServerError, CodeInternal, "replay failed")
		return
	}
	entry, err := s.dlqStore.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to reload entry")
		return
	}
	respondData(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := s.dlqStore.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			respondError(w, http.StatusNotFound, CodeNotFound, "dead letter entry not found")
			return
		}
		respondError(w, http.StatusInternalServerError, CodeInternal, "delete failed")
		return
	}
	respondData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleCleanupDeadLetters(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("olderThanHours"))
	if hours <= 0 {
		hours = 168
	}
	removed, err := s.dlqStore.DeleteOlderThan(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "cleanup failed")
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) handleDeadLetterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dlqStore.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to compute stats")
		return
	}
	respondData(w, http.StatusOK, stats)
}
