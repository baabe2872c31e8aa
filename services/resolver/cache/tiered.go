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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

// ============================================================================
// Configuration
// ============================================================================

// TierLevel binds a tier to the TTL entries receive when written into it.
// Faster tiers typically carry shorter TTLs.
type TierLevel struct {
	Tier Tier
	TTL  time.Duration
}

// TieredConfig configures the cache chain.
type TieredConfig struct {
	// PromotionTimeout bounds each background promotion write. Promotion
	// runs detached from the request context, so it needs its own budget.
	PromotionTimeout time.Duration

	// Logger for promotion and write-through failures.
	Logger *slog.Logger
}

// DefaultTieredConfig returns production defaults.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		PromotionTimeout: 5 * time.Second,
	}
}

func (c *TieredConfig) applyDefaults() {
	if c.PromotionTimeout <= 0 {
		c.PromotionTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ============================================================================
// TieredCache
// ============================================================================

// TieredCache chains cache tiers fastest-first. Reads probe tiers in
// order and stop at the first hit; a hit below the top promotes the
// entry into every faster tier in the background. A tier that errors is
// treated as a miss for that tier only, so a wedged disk store degrades
// the chain instead of failing it.
//
// Thread Safety: Safe for concurrent use. Promotion and slow-tier
// writes run on detached goroutines; Close waits for them.
type TieredCache struct {
	levels []TierLevel
	config TieredConfig
	logger *slog.Logger

	bg     sync.WaitGroup
	closed chan struct{}
}

// NewTieredCache builds the chain. Levels must be ordered fastest first
// and non-empty.
func NewTieredCache(levels []TierLevel, config TieredConfig) (*TieredCache, error) {
	if len(levels) == 0 {
		return nil, errors.New("tiered cache requires at least one tier")
	}
	for i, lv := range levels {
		if lv.Tier == nil {
			return nil, fmt.Errorf("tier at level %d is nil", i)
		}
	}
	config.applyDefaults()

	return &TieredCache{
		levels: levels,
		config: config,
		logger: config.Logger.With(slog.String("component", "cache.tiered")),
		closed: make(chan struct{}),
	}, nil
}

// Get probes tiers in order and returns the first hit along with the
// name of the tier that served it. All tiers missing (or erroring)
// returns found=false with no error: the chain itself cannot fail a
// read.
func (c *TieredCache) Get(ctx context.Context, key string) (*datatypes.CacheEntry, string, bool) {
	for i, lv := range c.levels {
		entry, found, err := lv.Tier.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache tier read failed, falling through",
				slog.String("tier", lv.Tier.Name()),
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		if !found {
			continue
		}

		if i > 0 {
			c.promote(key, entry, i)
		}
		return entry, lv.Tier.Name(), true
	}
	return nil, "", false
}

// promote copies a hit from level idx into every faster level. Runs in
// the background; failures are logged and never surfaced to the reader.
func (c *TieredCache) promote(key string, entry *datatypes.CacheEntry, idx int) {
	promoted := entry.Clone()
	promoted.LastAccessed = time.Now().UTC()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.config.PromotionTimeout)
		defer cancel()

		for j := 0; j < idx; j++ {
			lv := c.levels[j]
			if err := lv.Tier.Set(ctx, key, promoted, lv.TTL); err != nil {
				c.logger.Warn("cache promotion failed",
					slog.String("tier", lv.Tier.Name()),
					slog.String("key", key),
					slog.String("error", err.Error()))
			}
		}
	}()
}

// Set writes the entry through the chain. The fastest tier is written
// synchronously and its error is returned; slower tiers are written in
// the background so a slow disk never sits on the request path.
func (c *TieredCache) Set(ctx context.Context, key string, entry *datatypes.CacheEntry) error {
	top := c.levels[0]
	if err := top.Tier.Set(ctx, key, entry, top.TTL); err != nil {
		return fmt.Errorf("cache write to %s tier failed: %w", top.Tier.Name(), err)
	}

	if len(c.levels) > 1 {
		stored := entry.Clone()
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()

			wctx, cancel := context.WithTimeout(context.Background(), c.config.PromotionTimeout)
			defer cancel()

			for _, lv := range c.levels[1:] {
				if err := lv.Tier.Set(wctx, key, stored, lv.TTL); err != nil {
					c.logger.Warn("cache write-behind failed",
						slog.String("tier", lv.Tier.Name()),
						slog.String("key", key),
						slog.String("error", err.Error()))
				}
			}
		}()
	}
	return nil
}

// Delete removes the key from every tier. Best effort: all tiers are
// attempted even when earlier ones fail, and the combined error is
// returned. A concurrent in-flight promotion may re-insert the entry;
// it then ages out within its TTL.
func (c *TieredCache) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, lv := range c.levels {
		if err := lv.Tier.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s tier: %w", lv.Tier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close waits for background writes, then closes each tier.
func (c *TieredCache) Close() error {
	close(c.closed)
	c.bg.Wait()

	var errs []error
	for _, lv := range c.levels {
		if err := lv.Tier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s tier: %w", lv.Tier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
