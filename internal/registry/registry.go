// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package registry is the central control-plane store: the tenant directory
// keyed by provider phone number, plus the shared dead letter table. Tenant
// message data lives in per-tenant stores, never here.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/model"
)

// ErrTenantExists is returned when a tenant phone number is already claimed.
var ErrTenantExists = errors.New("tenant phone number already registered")

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	phone      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tenants_phone ON tenants(phone);

CREATE TABLE IF NOT EXISTS dead_letters (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	tenant_id     TEXT NOT NULL DEFAULT '',
	payload       BLOB NOT NULL,
	last_error    TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	next_retry_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_status ON dead_letters(status, next_retry_at);
`

// Registry wraps the central SQLite database.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path and applies
// the schema. Use ":memory:" in tests.
func Open(path string) (*Registry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying registry schema: %w", err)
	}

	logging.Info().Str("component", "registry").Str("path", path).Msg("Registry database opened")
	return &Registry{db: db}, nil
}

// DB exposes the underlying handle for stores sharing this database.
func (r *Registry) DB() *sql.DB {
	return r.db
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// CreateTenant registers a tenant. The ID is generated when empty.
func (r *Registry) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, phone, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Phone, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTenantExists
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// FindTenantByPhone looks up the tenant owning a provider phone number.
// Returns (nil, nil) when no tenant claims the number.
func (r *Registry) FindTenantByPhone(ctx context.Context, phone string) (*model.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM tenants WHERE phone = ?`, phone)

	var t model.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Phone, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tenant by phone: %w", err)
	}
	return &t, nil
}

// GetTenant fetches a tenant by ID. Returns (nil, nil) when absent.
func (r *Registry) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM tenants WHERE id = ?`, id)

	var t model.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Phone, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (r *Registry) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, phone, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Phone, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// isUniqueViolation detects SQLite unique constraint failures across
// driver error wrappings.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint failures in the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
