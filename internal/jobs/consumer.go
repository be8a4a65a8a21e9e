// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package jobs

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/steeplehq/steeple/internal/logging"
)

// AutoReplyFunc executes one auto-reply send.
type AutoReplyFunc func(ctx context.Context, job AutoReplyJob) error

// Consumer drains the auto-reply topic. It implements suture.Service.
type Consumer struct {
	bus  *Bus
	send AutoReplyFunc
}

// NewConsumer wires the auto-reply handler to the bus.
func NewConsumer(bus *Bus, send AutoReplyFunc) *Consumer {
	return &Consumer{bus: bus, send: send}
}

// Serve consumes auto-reply jobs until ctx is cancelled. Jobs are always
// acked: an auto-reply that fails is logged and dropped, never redelivered,
// so a broken reply cannot wedge the queue.
func (c *Consumer) Serve(ctx context.Context) error {
	msgs, err := c.bus.Subscribe(ctx, TopicAutoReply)
	if err != nil {
		return err
	}

	logging.Info().Str("component", "jobs").Msg("Auto-reply consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var job AutoReplyJob
			if err := json.Unmarshal(msg.Payload, &job); err != nil {
				logging.Err(err).Str("component", "jobs").Msg("Discarding undecodable auto-reply job")
				msg.Ack()
				continue
			}
			if err := c.send(ctx, job); err != nil {
				logging.Err(err).
					Str("component", "jobs").
					Str("tenant_id", job.TenantID).
					Msg("Auto-reply send failed")
			}
			msg.Ack()
		}
	}
}

// String identifies the consumer in supervisor logs.
func (c *Consumer) String() string {
	return "autoreply-consumer"
}
