// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus metrics for the resolver.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "resolver"

// ResolverMetrics covers the resolution pipeline end to end.
//
// Label conventions:
//   - source: cache | vector | legacy | miss
//   - tier:   hot | warm
//   - scope:  ip | user
//   - status: success | error
type ResolverMetrics struct {
	// ResolutionsTotal counts search resolutions by source and status.
	ResolutionsTotal *prometheus.CounterVec

	// ResolutionSeconds measures end-to-end resolution latency.
	ResolutionSeconds *prometheus.HistogramVec

	// CacheHitsTotal counts cache hits by tier.
	CacheHitsTotal *prometheus.CounterVec

	// CacheMissesTotal counts full-chain cache misses.
	CacheMissesTotal prometheus.Counter

	// RateLimitDenialsTotal counts 429s by scope.
	RateLimitDenialsTotal *prometheus.CounterVec

	// DiscoveryQueueDepth tracks queue size by status.
	DiscoveryQueueDepth *prometheus.GaugeVec

	// DiscoveryProcessedTotal counts finished discovery items by outcome
	// (valid | low_evidence | invalid | failed).
	DiscoveryProcessedTotal *prometheus.CounterVec

	// EmbeddingSeconds measures embedding provider latency.
	EmbeddingSeconds prometheus.Histogram

	// MirrorStateGauge exposes the Weaviate mirror connection state
	// (numeric ConnState value).
	MirrorStateGauge prometheus.Gauge
}

// NewResolverMetrics registers and returns the metric set. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func NewResolverMetrics(reg prometheus.Registerer) *ResolverMetrics {
	factory := promauto.With(reg)

	return &ResolverMetrics{
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resolutions_total",
				Help:      "Search resolutions by source and status",
			},
			[]string{"source", "status"},
		),

		ResolutionSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "resolution_seconds",
				Help:      "End-to-end resolution latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"source"},
		),

		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by tier",
			},
			[]string{"tier"},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_misses_total",
				Help:      "Full-chain cache misses",
			},
		),

		RateLimitDenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limit_denials_total",
				Help:      "Requests denied by the rate limiter, by scope",
			},
			[]string{"scope"},
		),

		DiscoveryQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "discovery_queue_depth",
				Help:      "Discovery queue size by item status",
			},
			[]string{"status"},
		),

		DiscoveryProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discovery_processed_total",
				Help:      "Finished discovery items by outcome",
			},
			[]string{"outcome"},
		),

		EmbeddingSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "embedding_seconds",
				Help:      "Embedding provider latency in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
			},
		),

		MirrorStateGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "mirror_connection_state",
				Help:      "Weaviate mirror connection state (0=healthy 1=degraded 2=open 3=half_open)",
			},
		),
	}
}
