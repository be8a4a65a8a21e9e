// Steeple - Multi-Tenant SMS Messaging Gateway for Congregations
// Copyright 2026 Steeple Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/steeplehq/steeple

// Package metrics defines the Prometheus collectors exposed on /metrics.
// Collectors are registered once at package load via promauto; components
// record through the helper functions instead of touching collectors
// directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound provider webhook events by type and
	// terminal outcome (processed, duplicate, unknown_tenant, non_member,
	// ignored, failed, rejected).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_webhook_events_total",
		Help: "Inbound provider webhook events by event type and outcome",
	}, []string{"event_type", "outcome"})

	// CircuitBreakerState tracks breaker state per dependency
	// (0 = closed, 1 = half-open, 2 = open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "steeple_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	// CircuitBreakerTransitions counts breaker state transitions.
	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"name", "from", "to"})

	// CircuitBreakerRequests counts calls through a breaker by outcome
	// (success, failure, rejected).
	CircuitBreakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_circuit_breaker_requests_total",
		Help: "Requests through a circuit breaker by outcome",
	}, []string{"name", "outcome"})

	// RetryAttempts counts retry attempts per operation.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_retry_attempts_total",
		Help: "Retry attempts by operation name",
	}, []string{"operation"})

	// DeadLetterEntries counts dead-letter writes by category.
	DeadLetterEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_dead_letter_entries_total",
		Help: "Dead letter entries created, by category",
	}, []string{"category"})

	// DeadLetterRetries counts replay attempts by result (success, failure).
	DeadLetterRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_dead_letter_retries_total",
		Help: "Dead letter replay attempts by result",
	}, []string{"result"})

	// DeadLetterPending gauges the current number of pending entries.
	DeadLetterPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steeple_dead_letter_pending",
		Help: "Current number of pending dead letter entries",
	})

	// DeadLetterExpired counts entries removed by retention cleanup.
	DeadLetterExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steeple_dead_letter_expired_total",
		Help: "Dead letter entries removed by retention cleanup",
	})

	// MappingCacheLookups counts receipt-mapping cache lookups by result
	// (hit, miss, error).
	MappingCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_mapping_cache_lookups_total",
		Help: "Delivery receipt mapping cache lookups by result",
	}, []string{"result"})

	// ReconcileScannedTenants observes how many tenant stores a receipt
	// scan touched before matching or giving up.
	ReconcileScannedTenants = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "steeple_reconcile_scanned_tenants",
		Help:    "Tenant stores scanned per delivery receipt",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})

	// SendDuration observes end-to-end outbound send latency in seconds,
	// including retries.
	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "steeple_send_duration_seconds",
		Help:    "Outbound send latency including retries",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequests counts HTTP requests by method, route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeple_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes HTTP request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steeple_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// RecordWebhookEvent records a terminal webhook outcome.
func RecordWebhookEvent(eventType, outcome string) {
	WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordDeadLetter records a newly created dead-letter entry.
func RecordDeadLetter(category string) {
	DeadLetterEntries.WithLabelValues(category).Inc()
}

// RecordDeadLetterRetry records a replay attempt outcome.
func RecordDeadLetterRetry(success bool) {
	if success {
		DeadLetterRetries.WithLabelValues("success").Inc()
	} else {
		DeadLetterRetries.WithLabelValues("failure").Inc()
	}
}

// RecordMappingLookup records a mapping cache lookup result.
func RecordMappingLookup(result string) {
	MappingCacheLookups.WithLabelValues(result).Inc()
}

// ObserveSendDuration records an outbound send's total latency.
func ObserveSendDuration(d time.Duration) {
	SendDuration.Observe(d.Seconds())
}
