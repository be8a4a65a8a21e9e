// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package api exposes the HTTP surface: provider webhooks, the operator
// management API, health probes and metrics.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/validation"
)

// APIResponse is the uniform JSON envelope for management endpoints.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []any  `json:"fields,omitempty"`
}

// Error codes used across handlers.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeMalformed       = "MALFORMED_REQUEST"
	CodeSendFailed      = "SEND_FAILED"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL_ERROR"
	CodeNotMember       = "NOT_A_MEMBER"
	CodeOptedOut        = "RECIPIENT_OPTED_OUT"
	CodeCircuitOpen     = "PROVIDER_UNAVAILABLE"
	CodeBadSignature    = "INVALID_SIGNATURE"
)

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Str("component", "api").Msg("Failed to encode response")
	}
}

// respondData wraps payload in a success envelope.
func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, APIResponse{Success: true, Data: data})
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, APIResponse{Success: false, Error: &APIError{Code: code, Message: message}})
}

// respondValidation writes a 400 carrying per-field failures.
func respondValidation(w http.ResponseWriter, verr *validation.RequestValidationError) {
	fields := make([]any, 0, len(verr.Errors()))
	for _, fe := range verr.Errors() {
		fields = append(fields, map[string]string{"field": fe.Field, "message": fe.Message})
	}
	respondJSON(w, http.StatusBadRequest, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    CodeValidation,
			Message: "request validation failed",
			Fields:  fields,
		},
	})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
