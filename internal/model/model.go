// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package model holds the domain types shared across storage, pipelines
// and the HTTP API.
package model

import (
	"time"
)

// Tenant is one congregation with a dedicated provider phone number and an
// isolated data store.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is a congregation member within one tenant. The phone number is
// stored hashed for lookups and encrypted for recovery; plaintext never
// reaches disk.
type Member struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	PhoneHash      string    `json:"-"`
	PhoneEncrypted string    `json:"-"`
	OptedOut       bool      `json:"optedOut"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is a message thread between a tenant and one member.
type Conversation struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenantId"`
	MemberID      string             `json:"memberId"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Direction distinguishes member-originated from tenant-originated messages.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus is the provider-reported fate of an outbound message.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ConversationMessage is one SMS or MMS within a conversation. MediaURLs is
// persisted as a JSON array; ProviderMessageID is unique per tenant store
// and anchors both inbound dedup and delivery receipt reconciliation.
type ConversationMessage struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversationId"`
	Direction         Direction      `json:"direction"`
	Body              string         `json:"body"`
	MediaURLs         []string       `json:"mediaUrls,omitempty"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"deliveryStatus"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// DeadLetterCategory classifies why work landed in the dead letter store.
type DeadLetterCategory string

const (
	// CategorySendFailure is an outbound send that exhausted retries or
	// hit an open circuit.
	CategorySendFailure DeadLetterCategory = "send-failure"

	// CategoryInboundFailure is an inbound webhook event that failed
	// mid-pipeline after authentication.
	CategoryInboundFailure DeadLetterCategory = "inbound-processing-failure"
)

// DeadLetterStatus is the replay lifecycle of a dead letter entry.
type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterResolved DeadLetterStatus = "resolved"
	DeadLetterDead     DeadLetterStatus = "dead-lettered"
)

// DeadLetterEntry is a failed unit of work preserved for replay. Payload is
// the original JSON needed to re-execute it.
type DeadLetterEntry struct {
	ID          string             `json:"id"`
	Category    DeadLetterCategory `json:"category"`
	TenantID    string             `json:"tenantId,omitempty"`
	Payload     []byte             `json:"payload"`
	LastError   string             `json:"lastError"`
	RetryCount  int                `json:"retryCount"`
	Status      DeadLetterStatus   `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	NextRetryAt time.Time          `json:"nextRetryAt"`
}
