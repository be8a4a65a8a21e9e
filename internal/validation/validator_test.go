// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package validation

import (
	"strings"
	"testing"
)

type sendRequest struct {
	TenantID string   `validate:"required"`
	ToPhone  string   `validate:"required,e164_phone"`
	Text     string   `validate:"required,max=1600"`
	Media    []string `validate:"omitempty,dive,url"`
}

func TestValidateStruct_Valid(t *testing.T) {
	req := sendRequest{
		TenantID: "t-1",
		ToPhone:  "+15551234567",
		Text:     "Service moved to 10am",
		Media:    []string{"https://cdn.example.test/flyer.jpg"},
	}
	if verr := ValidateStruct(req); verr != nil {
		t.Fatalf("ValidateStruct: %v", verr)
	}
}

func TestValidateStruct_E164Phone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+15551234567", true},
		{"+442071838750", true},
		{"15551234567", false},
		{"+05551234567", false},
		{"+1555", false},
		{"+1555123456789012345", false},
		{"not-a-phone", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.phone, func(t *testing.T) {
			req := sendRequest{TenantID: "t-1", ToPhone: tc.phone, Text: "hi"}
			verr := ValidateStruct(req)
			if tc.valid && verr != nil {
				t.Fatalf("%q rejected: %v", tc.phone, verr)
			}
			if !tc.valid && verr == nil {
				t.Fatalf("%q accepted", tc.phone)
			}
		})
	}
}

func TestValidateStruct_CollectsAllFailures(t *testing.T) {
	verr := ValidateStruct(sendRequest{ToPhone: "bad", Text: ""})
	if verr == nil {
		t.Fatal("expected validation errors")
	}

	fields := map[string]bool{}
	for _, fe := range verr.Errors() {
		fields[fe.Field] = true
	}
	for _, want := range []string{"TenantID", "ToPhone", "Text"} {
		if !fields[want] {
			t.Errorf("missing failure for %s: %v", want, verr)
		}
	}
}

func TestDescribeFailure_DoesNotLeakValue(t *testing.T) {
	secret := "+0000leaky0000"
	verr := ValidateStruct(sendRequest{TenantID: "t-1", ToPhone: secret, Text: "hi"})
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if strings.Contains(verr.Error(), secret) {
		t.Fatalf("message leaks the failing value: %s", verr.Error())
	}
}
