// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequestsTotal counts backend calls by endpoint and outcome.
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "backend",
		Name:      "requests_total",
		Help:      "Total backend requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// BackendRequestDuration tracks backend call latency.
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tiergate",
		Subsystem: "backend",
		Name:      "request_duration_seconds",
		Help:      "Backend request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// BreakerState reports the circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "backend",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per breaker (0=closed, 1=half-open, 2=open).",
	}, []string{"breaker"})

	// ResolutionsTotal counts resolver cycles by resulting tier and source.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Total tier resolutions by tier and source.",
	}, []string{"tier", "source"})

	// ResolverFallbacksTotal counts cycles that recovered from a panic.
	ResolverFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "resolver",
		Name:      "fallbacks_total",
		Help:      "Total resolver fallbacks by reason.",
	}, []string{"reason"})

	// ResolveDuration tracks how long a full resolution cycle takes.
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tiergate",
		Subsystem: "resolver",
		Name:      "cycle_duration_seconds",
		Help:      "Tier resolution cycle duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// FeatureActivationsTotal counts gate activations by feature and result.
	FeatureActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "gate",
		Name:      "activations_total",
		Help:      "Feature activations by feature and result (allowed/locked).",
	}, []string{"feature", "result"})

	// CurrentTier is 1 for the active UI tier and 0 for the others.
	CurrentTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "gate",
		Name:      "current_tier",
		Help:      "Currently applied UI tier (1 for the active tier).",
	}, []string{"tier"})

	// BannersShownTotal counts warning banners presented by kind.
	BannersShownTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "warning",
		Name:      "banners_shown_total",
		Help:      "Warning banners shown by kind.",
	}, []string{"kind"})

	// WebsocketClients tracks connected dashboard clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "dashboard",
		Name:      "websocket_clients",
		Help:      "Number of connected dashboard websocket clients.",
	})
)
