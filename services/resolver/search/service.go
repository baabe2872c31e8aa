// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search chains the resolution tiers behind one entry point.
//
// Resolution order is cache → vector → legacy, cheapest first. Every
// tier failure falls through to the next instead of failing the
// request; only a miss in all three is a negative result, and that
// negative result feeds the discovery queue so tomorrow's identical
// query can succeed.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/supplement-resolver/pkg/validation"
	"github.com/AleutianAI/supplement-resolver/services/resolver/cache"
	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/discovery"
	"github.com/AleutianAI/supplement-resolver/services/resolver/embedding"
	"github.com/AleutianAI/supplement-resolver/services/resolver/legacy"
	"github.com/AleutianAI/supplement-resolver/services/resolver/observability"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

// ErrInvalidQuery wraps query validation failures so handlers can map
// them to 400 instead of 500.
var ErrInvalidQuery = errors.New("invalid query")

// DefaultPubMedFilters narrows literature links to interventional
// evidence.
const DefaultPubMedFilters = "AND (clinical trial[pt] OR randomized controlled trial[pt])"

// Config tunes the resolution pipeline.
type Config struct {
	// MinSimilarity is the vector match threshold, strict greater-than.
	// Default 0.75.
	MinSimilarity float64

	// EmbedTimeout bounds the embedding call. Default 10s.
	EmbedTimeout time.Duration

	// VectorTimeout bounds the similarity search. Default 5s.
	VectorTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.75
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 10 * time.Second
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the resolution orchestrator.
//
// Thread Safety: Safe for concurrent use. Write-backs and queue
// enqueues run on detached goroutines; Close waits for them.
type Service struct {
	cache    *cache.TieredCache
	store    *vectorstore.Store
	embedder embedding.Provider
	mapping  *legacy.Mapping
	queue    *discovery.Queue
	metrics  *observability.ResolverMetrics // optional
	config   Config
	logger   *slog.Logger

	bg sync.WaitGroup
}

// ResolveOptions gates the optional resolution tiers per request. The
// cache tier always runs; callers can switch off vector search (skip
// embedding entirely) or the legacy fallback.
type ResolveOptions struct {
	UseVectorSearch  bool
	FallbackToLegacy bool
}

// DefaultResolveOptions enables every tier.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{UseVectorSearch: true, FallbackToLegacy: true}
}

// NewService wires the pipeline. metrics may be nil (tests).
func NewService(
	tiered *cache.TieredCache,
	store *vectorstore.Store,
	embedder embedding.Provider,
	mapping *legacy.Mapping,
	queue *discovery.Queue,
	metrics *observability.ResolverMetrics,
	config Config,
) *Service {
	config.applyDefaults()
	return &Service{
		cache:    tiered,
		store:    store,
		embedder: embedder,
		mapping:  mapping,
		queue:    queue,
		metrics:  metrics,
		config:   config,
		logger:   config.Logger.With(slog.String("component", "search.service")),
	}
}

// Resolve runs the pipeline for one query, honoring the per-request
// tier gates in opts. The returned result has the same shape for every
// source; an unresolvable query yields Success=false with no error
// return. Only validation failures return a non-nil error (wrapping
// ErrInvalidQuery).
func (s *Service) Resolve(ctx context.Context, rawQuery string, opts ResolveOptions) (*datatypes.SearchResult, error) {
	start := time.Now()

	ctx, span := otel.Tracer("search").Start(ctx, "search.Resolve",
		trace.WithAttributes(
			attribute.Int("query_length", len(rawQuery)),
			attribute.Bool("use_vector_search", opts.UseVectorSearch),
			attribute.Bool("fallback_to_legacy", opts.FallbackToLegacy)))
	defer span.End()

	if err := validation.ValidateQuery(rawQuery); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	normalized := validation.NormalizeQuery(rawQuery)
	span.SetAttributes(attribute.String("normalized", normalized))

	// Tier 1: cache.
	if result := s.fromCache(ctx, normalized, start); result != nil {
		span.SetAttributes(attribute.String("source", string(result.Source)))
		span.SetStatus(codes.Ok, "cache hit")
		return result, nil
	}

	// Tier 2: vector search, unless gated off. An embedding failure is
	// indistinguishable from a vector-store failure here: both fall
	// through.
	if opts.UseVectorSearch {
		if result := s.fromVector(ctx, normalized, start); result != nil {
			span.SetAttributes(attribute.String("source", string(result.Source)))
			span.SetStatus(codes.Ok, "vector hit")
			return result, nil
		}
	}

	// Tier 3: legacy mapping, unless gated off. Reaching it means the
	// designed path did not deliver, so a hit is always a fallback.
	if opts.FallbackToLegacy {
		if result := s.fromLegacy(ctx, normalized, start); result != nil {
			span.SetAttributes(attribute.String("source", string(result.Source)))
			span.SetStatus(codes.Ok, "legacy hit")
			return result, nil
		}
	}

	// Total miss: remember the demand.
	s.enqueueDiscovery(rawQuery, normalized)
	s.record("miss", "error")
	span.SetAttributes(attribute.String("source", "miss"))
	span.SetStatus(codes.Ok, "miss")

	return &datatypes.SearchResult{
		Success:      false,
		LatencyMs:    time.Since(start).Milliseconds(),
		FallbackUsed: opts.FallbackToLegacy,
		Error:        fmt.Sprintf("no supplement found for %q; queued for discovery", normalized),
	}, nil
}

// Close waits for in-flight write-backs and enqueues.
func (s *Service) Close() {
	s.bg.Wait()
}

// ----------------------------------------------------------------------------
// Tiers
// ----------------------------------------------------------------------------

func (s *Service) fromCache(ctx context.Context, normalized string, start time.Time) *datatypes.SearchResult {
	entry, tier, found := s.cache.Get(ctx, normalized)
	if !found {
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.Inc()
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
	s.record("cache", "success")

	// Demand tracking survives cache hits.
	s.background(func() {
		bctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.store.IncrementSearchCount(bctx, entry.Supplement.ID); err != nil &&
			!errors.Is(err, vectorstore.ErrNotFound) {
			s.logger.Warn("search count increment failed",
				slog.String("supplement_id", entry.Supplement.ID),
				slog.String("error", err.Error()))
		}
	})

	result := &datatypes.SearchResult{
		Success:    true,
		Supplement: payloadFromSupplement(&entry.Supplement),
		Source:     datatypes.SourceCache,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	s.observeLatency("cache", start)
	return result
}

// fromVector returns nil when the tier could not run or ran and
// missed; the caller falls through to legacy either way.
func (s *Service) fromVector(ctx context.Context, normalized string, start time.Time) *datatypes.SearchResult {
	ectx, cancel := context.WithTimeout(ctx, s.config.EmbedTimeout)
	embedStart := time.Now()
	vec, err := s.embedder.Embed(ectx, normalized)
	cancel()
	if s.metrics != nil {
		s.metrics.EmbeddingSeconds.Observe(time.Since(embedStart).Seconds())
	}
	if err != nil {
		s.logger.Warn("embedding failed, skipping vector tier",
			slog.String("normalized", normalized),
			slog.String("error", err.Error()))
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.config.VectorTimeout)
	matches, err := s.store.Search(vctx, vec, 1, s.config.MinSimilarity)
	cancel()
	if err != nil {
		s.logger.Warn("vector search failed",
			slog.String("normalized", normalized),
			slog.String("error", err.Error()))
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	match := matches[0]
	s.record("vector", "success")

	s.background(func() {
		bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.store.IncrementSearchCount(bctx, match.Supplement.ID); err != nil {
			s.logger.Warn("search count increment failed",
				slog.String("supplement_id", match.Supplement.ID),
				slog.String("error", err.Error()))
		}

		now := time.Now().UTC()
		entry := &datatypes.CacheEntry{
			Key:          normalized,
			Supplement:   *match.Supplement.Clone(),
			Embedding:    vec,
			Similarity:   match.Similarity,
			ResolvedFrom: string(datatypes.SourceVector),
			CreatedAt:    now,
			LastAccessed: now,
		}
		if err := s.cache.Set(bctx, normalized, entry); err != nil {
			s.logger.Warn("cache write-back failed",
				slog.String("key", normalized),
				slog.String("error", err.Error()))
		}
	})

	sim := match.Similarity
	result := &datatypes.SearchResult{
		Success:    true,
		Supplement: payloadFromSupplement(&match.Supplement),
		Source:     datatypes.SourceVector,
		Similarity: &sim,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	s.observeLatency("vector", start)
	return result
}

func (s *Service) fromLegacy(_ context.Context, normalized string, start time.Time) *datatypes.SearchResult {
	entry, found := s.mapping.Lookup(normalized)
	if !found {
		return nil
	}
	s.record("legacy", "success")

	result := &datatypes.SearchResult{
		Success:      true,
		Supplement:   payloadFromLegacy(entry),
		Source:       datatypes.SourceLegacy,
		LatencyMs:    time.Since(start).Milliseconds(),
		FallbackUsed: true,
	}
	s.observeLatency("legacy", start)
	return result
}

func (s *Service) enqueueDiscovery(rawQuery, normalized string) {
	s.background(func() {
		item, created := s.queue.Enqueue(rawQuery, normalized)
		if created {
			s.logger.Info("unresolved query queued for discovery",
				slog.String("normalized", normalized),
				slog.String("item_id", item.ID))
		}
		if s.metrics != nil {
			stats := s.queue.Stats()
			s.metrics.DiscoveryQueueDepth.WithLabelValues(string(discovery.StatusPending)).Set(float64(stats.Pending))
			s.metrics.DiscoveryQueueDepth.WithLabelValues(string(discovery.StatusProcessing)).Set(float64(stats.Processing))
		}
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *Service) background(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

func (s *Service) record(source, status string) {
	if s.metrics != nil {
		s.metrics.ResolutionsTotal.WithLabelValues(source, status).Inc()
	}
}

func (s *Service) observeLatency(source string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ResolutionSeconds.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}

func payloadFromSupplement(sup *datatypes.Supplement) *datatypes.SupplementPayload {
	return &datatypes.SupplementPayload{
		NormalizedName: sup.Name,
		ScientificName: sup.ScientificName,
		CommonNames:    append([]string(nil), sup.CommonNames...),
		Category:       sup.Category,
		Popularity:     sup.Popularity,
		PubmedQuery:    buildPubMedQuery(sup.Name),
		PubmedFilters:  DefaultPubMedFilters,
	}
}

func payloadFromLegacy(entry *legacy.Entry) *datatypes.SupplementPayload {
	names := append([]string{entry.Name}, entry.Aliases...)
	query := entry.PubMedQuery
	if query == "" {
		query = buildPubMedQuery(entry.Name)
	}
	return &datatypes.SupplementPayload{
		NormalizedName: entry.Name,
		ScientificName: entry.ScientificName,
		CommonNames:    names,
		Category:       entry.Category,
		PubmedQuery:    query,
		PubmedFilters:  DefaultPubMedFilters,
	}
}

// buildPubMedQuery derives a field-scoped literature query for names
// that have no curated one.
func buildPubMedQuery(name string) string {
	return fmt.Sprintf("%q[Title/Abstract]", strings.TrimSpace(name))
}
