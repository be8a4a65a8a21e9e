// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package tenantstore is the per-tenant message store. Each tenant owns its
// own SQLite file holding members, conversations and messages; nothing in a
// tenant store references another tenant.
package tenantstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/steeplehq/steeple/internal/model"
)

// ErrDuplicateMessage is returned when a provider message ID has already
// been recorded, which is how inbound replays are detected.
var ErrDuplicateMessage = errors.New("provider message id already recorded")

const schema = `
CREATE TABLE IF NOT EXISTS members (
	id              TEXT PRIMARY KEY,
	first_name      TEXT NOT NULL,
	last_name       TEXT NOT NULL,
	phone_hash      TEXT NOT NULL UNIQUE,
	phone_encrypted TEXT NOT NULL,
	opted_out       INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_members_phone_hash ON members(phone_hash);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	member_id       TEXT NOT NULL REFERENCES members(id),
	status          TEXT NOT NULL DEFAULT 'open',
	last_message_at TIMESTAMP NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_member ON conversations(member_id, status);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	conversation_id     TEXT NOT NULL REFERENCES conversations(id),
	direction           TEXT NOT NULL,
	body                TEXT NOT NULL,
	media_urls          TEXT NOT NULL DEFAULT '[]',
	provider_message_id TEXT,
	delivery_status     TEXT NOT NULL DEFAULT 'pending',
	created_at          TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_provider_id
	ON messages(provider_message_id) WHERE provider_message_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// Store wraps one tenant's SQLite database.
type Store struct {
	tenantID string
	db       *sql.DB
}

// Open opens (creating if needed) the tenant database at path.
func Open(tenantID, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening tenant database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying tenant schema: %w", err)
	}
	return &Store{tenantID: tenantID, db: db}, nil
}

// TenantID returns the owning tenant's ID.
func (s *Store) TenantID() string {
	return s.tenantID
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMember inserts a member. The ID is generated when empty.
func (s *Store) CreateMember(ctx context.Context, m *model.Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.TenantID = s.tenantID

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (id, first_name, last_name, phone_hash, phone_encrypted, opted_out, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FirstName, m.LastName, m.PhoneHash, m.PhoneEncrypted, boolToInt(m.OptedOut), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting member: %w", err)
	}
	return nil
}

// FindMemberByPhoneHash looks up a member by hashed phone number.
// Returns (nil, nil) when no member matches.
func (s *Store) FindMemberByPhoneHash(ctx context.Context, phoneHash string) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, phone_hash, phone_encrypted, opted_out, created_at
		 FROM members WHERE phone_hash = ?`, phoneHash)

	var m model.Member
	var optedOut int
	err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.PhoneHash, &m.PhoneEncrypted, &optedOut, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying member by phone hash: %w", err)
	}
	m.TenantID = s.tenantID
	m.OptedOut = optedOut != 0
	return &m, nil
}

// SetMemberOptOut flips a member's opt-out flag.
func (s *Store) SetMemberOptOut(ctx context.Context, memberID string, optedOut bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET opted_out = ? WHERE id = ?`, boolToInt(optedOut), memberID)
	if err != nil {
		return fmt.Errorf("updating member opt-out: %w", err)
	}
	return nil
}

// FindOrCreateConversation returns the member's open conversation, creating
// one when none exists. Closed and archived conversations are never reused.
func (s *Store) FindOrCreateConversation(ctx context.Context, memberID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, member_id, status, last_message_at, created_at
		 FROM conversations WHERE member_id = ? AND status = 'open'
		 ORDER BY created_at DESC LIMIT 1`, memberID)

	var c model.Conversation
	err := row.Scan(&c.ID, &c.MemberID, &c.Status, &c.LastMessageAt, &c.CreatedAt)
	if err == nil {
		c.TenantID = s.tenantID
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying open conversation: %w", err)
	}

	now := time.Now().UTC()
	c = model.Conversation{
		ID:            uuid.New().String(),
		TenantID:      s.tenantID,
		MemberID:      memberID,
		Status:        model.ConversationOpen,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, member_id, status, last_message_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.MemberID, c.Status, c.LastMessageAt, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return &c, nil
}

// SetConversationStatus updates a conversation's lifecycle state.
func (s *Store) SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE id = ?`, status, conversationID)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}
	return nil
}

// AppendMessage persists a message and bumps the conversation's
// last_message_at. Returns ErrDuplicateMessage when the provider message ID
// is already present.
func (s *Store) AppendMessage(ctx context.Context, msg *model.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = model.DeliveryPending
	}

	media, err := json.Marshal(msg.MediaURLs)
	if err != nil {
		return fmt.Errorf("encoding media urls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var providerID any
	if msg.ProviderMessageID != "" {
		providerID = msg.ProviderMessageID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, direction, body, media_urls, provider_message_id, delivery_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Direction, msg.Body, string(media), providerID, msg.DeliveryStatus, msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation timestamp: %w", err)
	}

	return tx.Commit()
}

// SetProviderMessageID attaches the provider's message ID to a stored
// outbound message once the send has been accepted.
func (s *Store) SetProviderMessageID(ctx context.Context, messageID, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET provider_message_id = ? WHERE id = ?`, providerMessageID, messageID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("setting provider message id: %w", err)
	}
	return nil
}

// FindMessageByProviderID fetches a message by provider message ID.
// Returns (nil, nil) when absent.
func (s *Store) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.ConversationMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, direction, body, media_urls, COALESCE(provider_message_id, ''), delivery_status, created_at
		 FROM messages WHERE provider_message_id = ?`, providerMessageID)
	return scanMessage(row)
}

// UpdateDeliveryStatus sets the delivery status of the message with the
// given provider message ID, reporting whether a row matched.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.DeliveryStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET delivery_status = ? WHERE provider_message_id = ?`,
		status, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("updating delivery status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns a conversation's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, direction, body, media_urls, COALESCE(provider_message_id, ''), delivery_status, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.ConversationMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.ConversationMessage, error) {
	var m model.ConversationMessage
	var media string
	err := row.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Body, &media, &m.ProviderMessageID, &m.DeliveryStatus, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	if err := json.Unmarshal([]byte(media), &m.MediaURLs); err != nil {
		return nil, fmt.Errorf("decoding media urls: %w", err)
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
