// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlogLogger returns an *slog.Logger that forwards records to the global
// zerolog logger. Some dependencies (sutureslog in particular) only speak
// slog; this bridge keeps their output in the same stream and format as
// everything else.
func NewSlogLogger() *slog.Logger {
	return slog.New(slogBridge{})
}

// slogBridge adapts slog records onto zerolog events.
type slogBridge struct {
	attrs []slog.Attr
}

func (b slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return slogToZerolog(level) >= zerolog.GlobalLevel()
}

func (b slogBridge) Handle(_ context.Context, rec slog.Record) error {
	logger := Logger()
	evt := logger.WithLevel(slogToZerolog(rec.Level))
	for _, attr := range b.attrs {
		evt = attrField(evt, attr)
	}
	rec.Attrs(func(attr slog.Attr) bool {
		evt = attrField(evt, attr)
		return true
	})
	evt.Msg(rec.Message)
	return nil
}

func (b slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	merged = append(merged, b.attrs...)
	merged = append(merged, attrs...)
	return slogBridge{attrs: merged}
}

// WithGroup flattens groups; suture events are shallow enough that grouping
// adds nothing.
func (b slogBridge) WithGroup(string) slog.Handler {
	return b
}

func attrField(evt *zerolog.Event, attr slog.Attr) *zerolog.Event {
	if attr.Equal(slog.Attr{}) {
		return evt
	}
	return evt.Interface(attr.Key, attr.Value.Any())
}

func slogToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
