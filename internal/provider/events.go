// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package provider speaks the SMS provider's wire protocol: inbound webhook
// event parsing, delivery receipt envelopes, and the outbound send API.
package provider

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Event types the provider delivers to the message webhook.
const (
	EventMessageReceived = "message.received"
	EventStatusUpdated   = "message.status.updated"
)

// InboundMessage is a member-originated SMS/MMS extracted from a
// message.received event.
type InboundMessage struct {
	ProviderMessageID string
	From              string
	To                string
	Text              string
	MediaURLs         []string
}

// Event is a parsed webhook event. Exactly one of the payload fields is
// populated, matching Type; unknown event types carry only Type so callers
// can acknowledge and ignore them.
type Event struct {
	Type    string
	Message *InboundMessage
	Receipt *DeliveryReceipt
}

// DeliveryReceipt is the provider's report on an outbound message's fate.
type DeliveryReceipt struct {
	ProviderMessageID string
	Status            string
}

// wireEvent mirrors the provider's JSON envelope.
type wireEvent struct {
	EventType string `json:"event_type"`
	Payload   struct {
		ID   string `json:"id"`
		From struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"from"`
		To []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"to"`
		Text  string `json:"text"`
		Media []struct {
			URL string `json:"url"`
		} `json:"media"`
		Status string `json:"status"`
	} `json:"payload"`
}

// ParseEvent decodes a raw webhook body into an Event. Only the envelope
// structure is validated here; semantic checks (known tenant, membership)
// happen downstream.
func ParseEvent(body []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decoding webhook event: %w", err)
	}
	if w.EventType == "" {
		return nil, fmt.Errorf("webhook event missing event_type")
	}

	switch w.EventType {
	case EventMessageReceived:
		msg := &InboundMessage{
			ProviderMessageID: w.Payload.ID,
			From:              w.Payload.From.PhoneNumber,
			Text:              w.Payload.Text,
		}
		if len(w.Payload.To) > 0 {
			msg.To = w.Payload.To[0].PhoneNumber
		}
		for _, m := range w.Payload.Media {
			if m.URL != "" {
				msg.MediaURLs = append(msg.MediaURLs, m.URL)
			}
		}
		if msg.ProviderMessageID == "" || msg.From == "" || msg.To == "" {
			return nil, fmt.Errorf("message.received event missing id, from, or to")
		}
		return &Event{Type: w.EventType, Message: msg}, nil

	case EventStatusUpdated:
		r := &DeliveryReceipt{
			ProviderMessageID: w.Payload.ID,
			Status:            w.Payload.Status,
		}
		if r.ProviderMessageID == "" || r.Status == "" {
			return nil, fmt.Errorf("status event missing id or status")
		}
		return &Event{Type: w.EventType, Receipt: r}, nil

	default:
		return &Event{Type: w.EventType}, nil
	}
}

// receiptEnvelope mirrors the delivery receipt webhook body, which uses a
// different envelope from message events.
type receiptEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Payload []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseReceipts decodes a delivery receipt webhook body. Bodies whose type
// is not the status event yield an empty slice.
func ParseReceipts(body []byte) ([]DeliveryReceipt, error) {
	var env receiptEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding receipt envelope: %w", err)
	}
	if env.Type != EventStatusUpdated {
		return nil, nil
	}

	receipts := make([]DeliveryReceipt, 0, len(env.Data.Payload))
	for _, p := range env.Data.Payload {
		if p.ID == "" || p.Status == "" {
			return nil, fmt.Errorf("receipt payload missing id or status")
		}
		receipts = append(receipts, DeliveryReceipt{ProviderMessageID: p.ID, Status: p.Status})
	}
	return receipts, nil
}
