// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the tiered resolution cache in front of the
// vector store. Tiers are ordered fastest first and follow the tiered
// persistence model:
//
//	Hot (Ristretto, RAM) → Warm (BadgerDB, local disk)
//
// The defining property of the chain is fault containment: a tier that
// errors during a read is treated as a miss for that tier only, and the
// chain continues. Hits found in slower tiers are promoted into faster
// tiers in the background.
package cache

import (
	"context"
	"time"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

// Tier is one cache store in the ordered fallback chain. Implementations
// are interchangeable key-value stores; the chain semantics (ordering,
// promotion, fault isolation) live in TieredCache, not here.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Tier interface {
	// Name identifies the tier in logs and metrics (e.g. "hot", "warm").
	Name() string

	// Get returns the entry for key, or found=false on a miss.
	Get(ctx context.Context, key string) (*datatypes.CacheEntry, bool, error)

	// Set writes the entry with the given TTL. Entries are immutable
	// once written; a Set for an existing key is a full overwrite.
	Set(ctx context.Context, key string, entry *datatypes.CacheEntry, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases tier resources.
	Close() error
}
