// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package jobs carries fire-and-forget work off the webhook hot path over
// an in-process Watermill pub/sub. Publishing never blocks inbound
// processing; a consumer service drains the topic in the background.
package jobs

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/steeplehq/steeple/internal/logging"
)

// TopicAutoReply carries auto-reply sends triggered by inbound messages.
const TopicAutoReply = "auto-reply"

// AutoReplyJob asks the consumer to send a reply on a tenant's behalf.
type AutoReplyJob struct {
	TenantID string `json:"tenantId"`
	From     string `json:"from"`
	To       string `json:"to"`
	Text     string `json:"text"`
}

// Bus wraps the in-process pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the in-process job bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, newWatermillLogger()),
	}
}

// PublishAutoReply enqueues an auto-reply send. Failures are logged and
// dropped; an auto-reply is best effort by contract.
func (b *Bus) PublishAutoReply(ctx context.Context, job AutoReplyJob) {
	payload, err := json.Marshal(job)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("component", "jobs").Msg("Failed to encode auto-reply job")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicAutoReply, msg); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("component", "jobs").Msg("Failed to publish auto-reply job")
	}
}

// Subscribe returns the channel of messages for topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts the bus down, ending all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	e := logging.Error().Err(err).Str("component", "jobs")
	addFields(e, l.fields, fields)
	e.Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	e := logging.Debug().Str("component", "jobs")
	addFields(e, l.fields, fields)
	e.Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	e := logging.Debug().Str("component", "jobs")
	addFields(e, l.fields, fields)
	e.Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	e := logging.Debug().Str("component", "jobs")
	addFields(e, l.fields, fields)
	e.Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func addFields(e *zerolog.Event, sets ...watermill.LogFields) {
	for _, fields := range sets {
		for k, v := range fields {
			e.Interface(k, v)
		}
	}
}
