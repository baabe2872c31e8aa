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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

// keyPrefix namespaces resolver entries so the Badger directory can be
// shared with other stores without key collisions.
const keyPrefix = "resolve:"

// BadgerTierConfig configures the warm (local disk) tier.
type BadgerTierConfig struct {
	// Dir is the Badger data directory. Ignored when InMemory is set.
	Dir string

	// InMemory runs Badger without disk persistence. Used in tests.
	InMemory bool

	// GCInterval is how often the value-log garbage collector runs.
	GCInterval time.Duration

	// GCDiscardRatio is the fraction of a value-log file that must be
	// stale before the GC rewrites it.
	GCDiscardRatio float64

	// Logger receives Badger's internal log output at debug level.
	Logger *slog.Logger
}

// DefaultBadgerTierConfig returns production settings for the warm tier.
func DefaultBadgerTierConfig(dir string) BadgerTierConfig {
	return BadgerTierConfig{
		Dir:            dir,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerTierConfig returns settings for an ephemeral tier with
// no disk footprint.
func InMemoryBadgerTierConfig() BadgerTierConfig {
	return BadgerTierConfig{
		InMemory:       true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Validate checks the configuration.
func (c *BadgerTierConfig) Validate() error {
	if !c.InMemory && c.Dir == "" {
		return errors.New("badger tier requires a data directory unless in-memory")
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		return fmt.Errorf("gc discard ratio must be in [0,1], got %f", c.GCDiscardRatio)
	}
	return nil
}

func (c *BadgerTierConfig) applyDefaults() {
	if c.GCInterval <= 0 {
		c.GCInterval = 10 * time.Minute
	}
	if c.GCDiscardRatio <= 0 {
		c.GCDiscardRatio = 0.5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// badgerLogger adapts Badger's internal logging onto slog. Badger is
// chatty at info level, so everything is demoted to debug except errors.
type badgerLogger struct {
	logger *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerTier is the warm tier: resolved entries persisted to local disk
// so cache contents survive process restarts. Values are JSON-encoded
// CacheEntry records with Badger-native TTL expiry.
type BadgerTier struct {
	db     *badger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone sync.WaitGroup
}

var _ Tier = (*BadgerTier)(nil)

// NewBadgerTier opens the warm tier and starts its GC runner.
func NewBadgerTier(cfg BadgerTierConfig) (*BadgerTier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid badger tier config: %w", err)
	}
	cfg.applyDefaults()

	logger := cfg.Logger.With(slog.String("component", "cache.badger"))

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Dir, err)
	}

	t := &BadgerTier{
		db:     db,
		logger: logger,
		gcStop: make(chan struct{}),
	}

	// Value-log GC only applies to on-disk databases.
	if !cfg.InMemory {
		t.gcDone.Add(1)
		go t.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return t, nil
}

// runGC reclaims stale value-log space on a fixed interval. A single GC
// pass rewrites at most one file, so passes loop until Badger reports
// nothing left to rewrite.
func (t *BadgerTier) runGC(interval time.Duration, discardRatio float64) {
	defer t.gcDone.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.gcStop:
			return
		case <-ticker.C:
			for {
				err := t.db.RunValueLogGC(discardRatio)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						t.logger.Warn("value log gc failed", slog.String("error", err.Error()))
					}
					break
				}
			}
		}
	}
}

// Name implements Tier.
func (t *BadgerTier) Name() string { return "warm" }

// Get implements Tier.
func (t *BadgerTier) Get(_ context.Context, key string) (*datatypes.CacheEntry, bool, error) {
	var raw []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("badger read failed for %q: %w", key, err)
	}

	var entry datatypes.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt record is unrecoverable; treat it as a miss so the
		// chain falls through and the next Set overwrites it.
		t.logger.Warn("discarding corrupt cache entry",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set implements Tier.
func (t *BadgerTier) Set(_ context.Context, key string, entry *datatypes.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry for %q: %w", key, err)
	}

	err = t.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), raw)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger write failed for %q: %w", key, err)
	}
	return nil
}

// Delete implements Tier.
func (t *BadgerTier) Delete(_ context.Context, key string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badger delete failed for %q: %w", key, err)
	}
	return nil
}

// Close implements Tier. Stops the GC runner, then closes the database.
func (t *BadgerTier) Close() error {
	close(t.gcStop)
	t.gcDone.Wait()
	return t.db.Close()
}
