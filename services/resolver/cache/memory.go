// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

// MemoryTierConfig configures the in-process hot tier.
type MemoryTierConfig struct {
	// NumCounters is the number of keys Ristretto tracks for admission
	// frequency. Rule of thumb: 10x the expected number of live entries.
	NumCounters int64

	// MaxCost is the total cost budget. Each entry is stored with a
	// cost of 1, so this is effectively a max entry count.
	MaxCost int64

	// Synchronous forces Set to wait until the write is visible to
	// subsequent Gets. The hot tier is the fastest tier, so callers
	// expect read-your-write behavior from it; tests rely on it too.
	Synchronous bool
}

// DefaultMemoryTierConfig returns settings sized for a single resolver
// instance holding the working set of popular supplement queries.
func DefaultMemoryTierConfig() MemoryTierConfig {
	return MemoryTierConfig{
		NumCounters: 100_000,
		MaxCost:     10_000,
		Synchronous: true,
	}
}

// MemoryTier is the hot tier: a Ristretto cache holding resolved entries
// in RAM. Admission is frequency-based, so one-off queries do not evict
// the popular working set.
type MemoryTier struct {
	cache *ristretto.Cache[string, *datatypes.CacheEntry]
	sync  bool
}

// Compile-time interface check.
var _ Tier = (*MemoryTier)(nil)

// NewMemoryTier creates the hot tier.
func NewMemoryTier(cfg MemoryTierConfig) (*MemoryTier, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultMemoryTierConfig().NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultMemoryTierConfig().MaxCost
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, *datatypes.CacheEntry]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &MemoryTier{cache: c, sync: cfg.Synchronous}, nil
}

// Name implements Tier.
func (m *MemoryTier) Name() string { return "hot" }

// Get implements Tier. The hot tier cannot fail a read; a missing or
// evicted key is simply a miss.
func (m *MemoryTier) Get(_ context.Context, key string) (*datatypes.CacheEntry, bool, error) {
	entry, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

// Set implements Tier.
func (m *MemoryTier) Set(_ context.Context, key string, entry *datatypes.CacheEntry, ttl time.Duration) error {
	m.cache.SetWithTTL(key, entry, 1, ttl)
	if m.sync {
		// Ristretto buffers writes; Wait drains the buffer so the
		// entry is immediately visible.
		m.cache.Wait()
	}
	return nil
}

// Delete implements Tier.
func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.cache.Del(key)
	if m.sync {
		m.cache.Wait()
	}
	return nil
}

// Close implements Tier.
func (m *MemoryTier) Close() error {
	m.cache.Close()
	return nil
}
