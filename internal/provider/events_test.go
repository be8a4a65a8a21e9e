// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package provider

import (
	"testing"
)

func TestParseEvent_MessageReceived(t *testing.T) {
	body := []byte(`{
		"event_type": "message.received",
		"payload": {
			"id": "prov-abc",
			"from": {"phone_number": "+15557654321"},
			"to": [{"phone_number": "+15551230001"}],
			"text": "see you sunday",
			"media": [{"url": "https://cdn.example.com/flyer.jpg"}]
		}
	}`)

	evt, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Type != EventMessageReceived || evt.Message == nil {
		t.Fatalf("unexpected event: %+v", evt)
	}
	m := evt.Message
	if m.ProviderMessageID != "prov-abc" || m.From != "+15557654321" || m.To != "+15551230001" {
		t.Errorf("addressing: %+v", m)
	}
	if m.Text != "see you sunday" {
		t.Errorf("text: %q", m.Text)
	}
	if len(m.MediaURLs) != 1 || m.MediaURLs[0] != "https://cdn.example.com/flyer.jpg" {
		t.Errorf("media: %v", m.MediaURLs)
	}
}

func TestParseEvent_StatusUpdated(t *testing.T) {
	body := []byte(`{
		"event_type": "message.status.updated",
		"payload": {"id": "prov-out-1", "status": "delivered"}
	}`)

	evt, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Type != EventStatusUpdated || evt.Receipt == nil {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Receipt.ProviderMessageID != "prov-out-1" || evt.Receipt.Status != "delivered" {
		t.Errorf("receipt: %+v", evt.Receipt)
	}
}

func TestParseEvent_UnknownTypePassesThrough(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event_type": "message.finalized", "payload": {}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Type != "message.finalized" {
		t.Errorf("type: %s", evt.Type)
	}
	if evt.Message != nil || evt.Receipt != nil {
		t.Error("unknown events must carry no payload")
	}
}

func TestParseReceipts(t *testing.T) {
	body := []byte(`{
		"type": "message.status.updated",
		"data": {"payload": [{"id": "prov-1", "status": "delivered"}, {"id": "prov-2", "status": "failed"}]}
	}`)

	receipts, err := ParseReceipts(body)
	if err != nil {
		t.Fatalf("ParseReceipts: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("got %d receipts", len(receipts))
	}
	if receipts[0].ProviderMessageID != "prov-1" || receipts[0].Status != "delivered" {
		t.Errorf("first receipt: %+v", receipts[0])
	}
}

func TestParseReceipts_OtherTypeYieldsNothing(t *testing.T) {
	receipts, err := ParseReceipts([]byte(`{"type": "message.sent", "data": {"payload": [{"id": "x", "status": "sent"}]}}`))
	if err != nil {
		t.Fatalf("ParseReceipts: %v", err)
	}
	if len(receipts) != 0 {
		t.Errorf("expected no receipts, got %d", len(receipts))
	}
}

func TestParseReceipts_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `]`},
		{"missing id", `{"type":"message.status.updated","data":{"payload":[{"status":"delivered"}]}}`},
		{"missing status", `{"type":"message.status.updated","data":{"payload":[{"id":"x"}]}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseReceipts([]byte(tc.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing event_type", `{"payload": {"id": "x"}}`},
		{"received missing from", `{"event_type":"message.received","payload":{"id":"x","to":[{"phone_number":"+15551230001"}]}}`},
		{"received missing to", `{"event_type":"message.received","payload":{"id":"x","from":{"phone_number":"+15557654321"}}}`},
		{"received missing id", `{"event_type":"message.received","payload":{"from":{"phone_number":"+1"},"to":[{"phone_number":"+2"}]}}`},
		{"status missing status", `{"event_type":"message.status.updated","payload":{"id":"x"}}`},
		{"status missing id", `{"event_type":"message.status.updated","payload":{"status":"delivered"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEvent([]byte(tc.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
