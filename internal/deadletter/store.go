// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package deadletter preserves failed work for later replay. Outbound sends
// that exhaust their retry budget and inbound events that fail mid-pipeline
// both land here; a background worker replays pending entries with its own
// backoff schedule until they resolve or age out.
package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
	"github.com/steeplehq/steeple/internal/model"
)

// ErrNotFound is returned when an entry ID does not exist.
var ErrNotFound = errors.New("dead letter entry not found")

// Store persists dead letter entries on the registry database.
type Store struct {
	db *sql.DB
}

// NewStore wraps the shared registry database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add inserts a new pending entry and returns its ID. retryCount records
// how many retries the caller already burned before giving up, so operators
// can distinguish "never tried" from "exhausted budget".
func (s *Store) Add(ctx context.Context, category model.DeadLetterCategory, tenantID string, payload []byte, cause error, retryCount int) (string, error) {
	now := time.Now().UTC()
	entry := model.DeadLetterEntry{
		ID:          uuid.New().String(),
		Category:    category,
		TenantID:    tenantID,
		Payload:     payload,
		LastError:   cause.Error(),
		RetryCount:  retryCount,
		Status:      model.DeadLetterPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, category, tenant_id, payload, last_error, retry_count, status, created_at, updated_at, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Category, entry.TenantID, entry.Payload, entry.LastError,
		entry.RetryCount, entry.Status, entry.CreatedAt, entry.UpdatedAt, entry.NextRetryAt)
	if err != nil {
		return "", fmt.Errorf("inserting dead letter: %w", err)
	}

	metrics.RecordDeadLetter(string(category))
	logging.Ctx(ctx).Warn().
		Str("component", "deadletter").
		Str("entry_id", entry.ID).
		Str("category", string(category)).
		Str("tenant_id", tenantID).
		Err(cause).
		Msg("Work dead-lettered")
	return entry.ID, nil
}

// Get fetches one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

const selectCols = `SELECT id, category, tenant_id, payload, last_error, retry_count, status, created_at, updated_at, next_retry_at FROM dead_letters`

// List returns entries filtered by status ("" for all), newest first.
func (s *Store) List(ctx context.Context, status model.DeadLetterStatus, limit int) ([]model.DeadLetterEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, selectCols+` ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectCols+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Due returns pending entries whose next_retry_at has passed.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]model.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectCols+` WHERE status = ? AND next_retry_at <= ? ORDER BY next_retry_at LIMIT ?`,
		model.DeadLetterPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due dead letters: %w", err)
	}
	defer rows.Close()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// RecordFailure bumps the retry counter, stores the latest error, and
// schedules the next attempt.
func (s *Store) RecordFailure(ctx context.Context, id string, cause error, nextRetryAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letters SET retry_count = retry_count + 1, last_error = ?, updated_at = ?, next_retry_at = ? WHERE id = ?`,
		cause.Error(), time.Now().UTC(), nextRetryAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("recording dead letter failure: %w", err)
	}
	return requireRow(res)
}

// MarkResolved marks a successfully replayed entry.
func (s *Store) MarkResolved(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, model.DeadLetterResolved)
}

// MarkDead permanently parks an entry that exhausted its replay budget.
func (s *Store) MarkDead(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, model.DeadLetterDead)
}

func (s *Store) setStatus(ctx context.Context, id string, status model.DeadLetterStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letters SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating dead letter status: %w", err)
	}
	return requireRow(res)
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting dead letter: %w", err)
	}
	return requireRow(res)
}

// DeleteOlderThan removes resolved and dead entries updated before cutoff,
// returning how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE status != ? AND updated_at < ?`,
		model.DeadLetterPending, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	metrics.DeadLetterExpired.Add(float64(n))
	return n, nil
}

// Stats summarizes the queue by status and category.
type Stats struct {
	Pending    int64            `json:"pending"`
	Resolved   int64            `json:"resolved"`
	Dead       int64            `json:"deadLettered"`
	ByCategory map[string]int64 `json:"byCategory"`
}

// Stats aggregates queue counters for the operator API.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByCategory: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, category, COUNT(*) FROM dead_letters GROUP BY status, category`)
	if err != nil {
		return nil, fmt.Errorf("querying dead letter stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, category string
		var count int64
		if err := rows.Scan(&status, &category, &count); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		switch model.DeadLetterStatus(status) {
		case model.DeadLetterPending:
			stats.Pending += count
		case model.DeadLetterResolved:
			stats.Resolved += count
		case model.DeadLetterDead:
			stats.Dead += count
		}
		stats.ByCategory[category] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics.DeadLetterPending.Set(float64(stats.Pending))
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.DeadLetterEntry, error) {
	var e model.DeadLetterEntry
	err := row.Scan(&e.ID, &e.Category, &e.TenantID, &e.Payload, &e.LastError,
		&e.RetryCount, &e.Status, &e.CreatedAt, &e.UpdatedAt, &e.NextRetryAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning dead letter: %w", err)
	}
	return &e, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
