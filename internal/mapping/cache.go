// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package mapping is the delivery receipt fast path: a short-TTL Redis map
// from provider message ID to tenant ID, written when a send is accepted.
// The cache is an optimization only; reconciliation falls back to scanning
// tenant stores on a miss, so cache failures never fail a request.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
)

const keyPrefix = "dlr:"

// Cache maps provider message IDs to tenant IDs with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Config configures the mapping cache.
type Config struct {
	// Addr is the Redis address. Empty disables the cache.
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB selects the Redis database.
	DB int

	// TTL bounds how long a mapping lives. Default: 72h, comfortably
	// past the window in which providers emit delivery receipts.
	TTL time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 72 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Cache{client: client, ttl: cfg.TTL}, nil
}

// StoreTenant records which tenant sent providerMessageID. Errors are
// logged and swallowed: losing a mapping only costs a slower receipt.
func (c *Cache) StoreTenant(ctx context.Context, providerMessageID, tenantID string) {
	if c == nil {
		return
	}
	err := c.client.Set(ctx, keyPrefix+providerMessageID, tenantID, c.ttl).Err()
	if err != nil {
		logging.Ctx(ctx).Warn().
			Str("component", "mapping").
			Str("provider_message_id", providerMessageID).
			Err(err).
			Msg("Failed to cache receipt mapping")
	}
}

// LookupTenant returns the tenant that sent providerMessageID, or "" on a
// miss or cache failure.
func (c *Cache) LookupTenant(ctx context.Context, providerMessageID string) string {
	if c == nil {
		return ""
	}
	tenantID, err := c.client.Get(ctx, keyPrefix+providerMessageID).Result()
	switch {
	case err == nil:
		metrics.RecordMappingLookup("hit")
		return tenantID
	case errors.Is(err, redis.Nil):
		metrics.RecordMappingLookup("miss")
		return ""
	default:
		metrics.RecordMappingLookup("error")
		logging.Ctx(ctx).Warn().
			Str("component", "mapping").
			Err(err).
			Msg("Receipt mapping lookup failed")
		return ""
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
