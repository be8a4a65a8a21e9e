// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package validation wraps go-playground/validator v10 behind a thread-safe
// singleton with an E.164 phone-number rule, translating failures into the
// API's VALIDATION_ERROR shape.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// e164Pattern matches provider-normalized E.164 phone numbers.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Validator returns the singleton validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// e164: provider phone numbers in +15551234567 form.
		//nolint:errcheck // registration only fails for empty tag names
		validate.RegisterValidation("e164_phone", func(fl validator.FieldLevel) bool {
			return e164Pattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Error returns a human-readable message.
func (e *FieldError) Error() string {
	return e.Message
}

// RequestValidationError aggregates field failures for one struct.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []FieldError {
	return ve.errors
}

// Error implements the error interface.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	var messages []string
	for _, err := range ve.errors {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct validates v and returns nil or a *RequestValidationError.
func ValidateStruct(v interface{}) *RequestValidationError {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return &RequestValidationError{errors: []FieldError{{
			Field:   "",
			Tag:     "struct",
			Message: "invalid value passed to validation",
		}}}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RequestValidationError{errors: []FieldError{{
			Field:   "",
			Tag:     "unknown",
			Message: err.Error(),
		}}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: describeFailure(fe),
		})
	}
	return &RequestValidationError{errors: out}
}

// describeFailure renders a field error without leaking the failing value.
func describeFailure(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "e164_phone":
		return fmt.Sprintf("%s must be an E.164 phone number", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
