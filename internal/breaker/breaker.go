// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package breaker implements the circuit breaker guarding the SMS provider.
//
// The breaker trips after a run of consecutive failures, fails fast while
// open, and recovers through a half-open probe phase: after the reset
// timeout a bounded number of probe calls are let through, and two
// consecutive probe successes close the circuit again. A single probe
// failure reopens it.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/steeplehq/steeple/internal/logging"
	"github.com/steeplehq/steeple/internal/metrics"
)

// ErrCircuitOpen is returned without invoking the wrapped call while the
// circuit is open or the half-open probe quota is exhausted. Callers treat
// it as permanent: retrying immediately cannot succeed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// closeAfterSuccesses is the number of consecutive half-open probe
// successes required to close the circuit.
const closeAfterSuccesses = 2

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing
	// half-open probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes caps concurrent-in-flight-plus-settled calls admitted
	// while half-open. Default: 1.
	HalfOpenProbes int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker is a mutex-guarded circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      int
	probesInUse   int
	probeSuccess  int
	openedAt      time.Time
	lastFailure   error
	totalRequests uint64
	totalRejected uint64

	// now is injectable for tests.
	now func() time.Time
}

// New creates a named breaker. Zero config fields take defaults.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return b
}

// Execute runs fn under the breaker. It returns ErrCircuitOpen without
// calling fn when the circuit rejects the call, otherwise it returns fn's
// error and folds the outcome into the breaker state.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return err
	}

	err := fn()
	b.settle(err)
	if err != nil {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	} else {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	}
	return err
}

// admit decides whether a call may proceed, transitioning open to
// half-open lazily when the reset timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
		b.probesInUse = 0
		b.probeSuccess = 0
	}

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probesInUse >= b.cfg.HalfOpenProbes {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.probesInUse++
		return nil
	default:
		b.totalRejected++
		return ErrCircuitOpen
	}
}

// settle folds a completed call's outcome into the breaker state.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
	} else {
		b.lastFailure = err
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeSuccess++
		if b.probeSuccess >= closeAfterSuccesses {
			b.transition(StateClosed)
			b.failures = 0
		} else {
			// Free the probe slot so the next probe can run.
			b.probesInUse--
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	}
}

// open trips the circuit (must be called with mu held).
func (b *Breaker) open() {
	b.transition(StateOpen)
	b.openedAt = b.now()
	b.probesInUse = 0
	b.probeSuccess = 0
}

// transition changes state and records it (must be called with mu held).
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	metrics.CircuitBreakerTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
	var gaugeVal float64
	switch to {
	case StateHalfOpen:
		gaugeVal = 1
	case StateOpen:
		gaugeVal = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(gaugeVal)

	evt := logging.Info()
	if to == StateOpen {
		evt = logging.Warn().Err(b.lastFailure)
	}
	evt.
		Str("component", "breaker").
		Str("breaker", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state change")
}

// State returns the current state, applying the lazy open-to-half-open
// transition so callers observe the effective state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Metrics is a point-in-time breaker snapshot.
type Metrics struct {
	State          string `json:"state"`
	Failures       int    `json:"consecutiveFailures"`
	TotalRequests  uint64 `json:"totalRequests"`
	TotalRejected  uint64 `json:"totalRejected"`
	LastFailureMsg string `json:"lastFailure,omitempty"`
}

// Snapshot returns current breaker counters for health reporting.
func (b *Breaker) Snapshot() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := Metrics{
		State:         b.state.String(),
		Failures:      b.failures,
		TotalRequests: b.totalRequests,
		TotalRejected: b.totalRejected,
	}
	if b.lastFailure != nil {
		m.LastFailureMsg = b.lastFailure.Error()
	}
	return m
}
