// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

package deadletter

import (
	"context"
	"math"
	"time"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
	"github.com/steeplehq/steeple/internal/model"
)

// Replayer re-executes one dead-lettered unit of work. A nil return
// resolves the entry; an error reschedules it.
type Replayer func(ctx context.Context, entry model.DeadLetterEntry) error

// WorkerConfig tunes the background replay loop.
type WorkerConfig struct {
	// Interval between replay sweeps. Default: 1m.
	Interval time.Duration

	// BatchSize caps entries replayed per sweep. Default: 50.
	BatchSize int

	// MaxRetries parks an entry as dead after this many failed replays.
	// Default: 10.
	MaxRetries int

	// BaseBackoff seeds the replay reschedule delay. Default: 1m.
	BaseBackoff time.Duration

	// MaxBackoff caps the reschedule delay. Default: 1h.
	MaxBackoff time.Duration

	// Retention removes resolved and dead entries older than this.
	// Default: 168h (7 days).
	Retention time.Duration
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:    time.Minute,
		BatchSize:   50,
		MaxRetries:  10,
		BaseBackoff: time.Minute,
		MaxBackoff:  time.Hour,
		Retention:   7 * 24 * time.Hour,
	}
}

// Worker periodically replays pending dead letters. It implements
// suture.Service.
type Worker struct {
	store     *Store
	cfg       WorkerConfig
	replayers map[model.DeadLetterCategory]Replayer
}

// NewWorker builds a replay worker. replayers maps each category to the
// function that re-executes it; categories without a replayer are skipped.
func NewWorker(store *Store, cfg WorkerConfig, replayers map[model.DeadLetterCategory]Replayer) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Worker{store: store, cfg: cfg, replayers: replayers}
}

// Serve runs the replay loop until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	logging.Info().
		Str("component", "deadletter").
		Dur("interval", w.cfg.Interval).
		Msg("Dead letter worker started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "deadletter").Msg("Dead letter worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep replays one batch of due entries and applies retention cleanup.
func (w *Worker) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	entries, err := w.store.Due(ctx, now, w.cfg.BatchSize)
	if err != nil {
		logging.Err(err).Str("component", "deadletter").Msg("Failed to load due dead letters")
		return
	}

	for _, entry := range entries {
		w.replayOne(ctx, entry)
	}

	if removed, err := w.store.DeleteOlderThan(ctx, now.Add(-w.cfg.Retention)); err != nil {
		logging.Err(err).Str("component", "deadletter").Msg("Retention cleanup failed")
	} else if removed > 0 {
		logging.Info().
			Str("component", "deadletter").
			Int64("removed", removed).
			Msg("Expired dead letters removed")
	}
}

// ReplayNow replays a single entry on demand, bypassing its schedule.
// Used by the operator retry endpoint.
func (w *Worker) ReplayNow(ctx context.Context, id string) error {
	entry, err := w.store.Get(ctx, id)
	if err != nil {
		return err
	}
	w.replayOne(ctx, *entry)
	return nil
}

func (w *Worker) replayOne(ctx context.Context, entry model.DeadLetterEntry) {
	replay, ok := w.replayers[entry.Category]
	if !ok {
		logging.Warn().
			Str("component", "deadletter").
			Str("entry_id", entry.ID).
			Str("category", string(entry.Category)).
			Msg("No replayer registered for category")
		return
	}

	err := replay(ctx, entry)
	metrics.RecordDeadLetterRetry(err == nil)

	if err == nil {
		if markErr := w.store.MarkResolved(ctx, entry.ID); markErr != nil {
			logging.Err(markErr).Str("component", "deadletter").Str("entry_id", entry.ID).Msg("Failed to mark entry resolved")
		}
		logging.Info().
			Str("component", "deadletter").
			Str("entry_id", entry.ID).
			Int("retry_count", entry.RetryCount).
			Msg("Dead letter replayed successfully")
		return
	}

	if entry.RetryCount+1 >= w.cfg.MaxRetries {
		if markErr := w.store.MarkDead(ctx, entry.ID); markErr != nil {
			logging.Err(markErr).Str("component", "deadletter").Str("entry_id", entry.ID).Msg("Failed to park entry")
		}
		logging.Error().
			Str("component", "deadletter").
			Str("entry_id", entry.ID).
			Int("retry_count", entry.RetryCount+1).
			Err(err).
			Msg("Dead letter exhausted replay budget")
		return
	}

	next := time.Now().UTC().Add(w.backoffFor(entry.RetryCount + 1))
	if recErr := w.store.RecordFailure(ctx, entry.ID, err, next); recErr != nil {
		logging.Err(recErr).Str("component", "deadletter").Str("entry_id", entry.ID).Msg("Failed to reschedule entry")
	}
}

// backoffFor computes the reschedule delay after the nth failed replay.
func (w *Worker) backoffFor(retryCount int) time.Duration {
	d := float64(w.cfg.BaseBackoff) * math.Pow(2, float64(retryCount-1))
	return time.Duration(math.Min(d, float64(w.cfg.MaxBackoff)))
}

// String identifies the worker in supervisor logs.
func (w *Worker) String() string {
	return "deadletter-worker"
}
