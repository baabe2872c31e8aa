// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Counter Store
// -----------------------------------------------------------------------------

// TakeResult is the outcome of an atomic take against a counter store.
type TakeResult struct {
	// Count is the number of timestamps inside the window after the
	// operation, including the newly recorded one if Recorded is true.
	Count int

	// Oldest is the oldest timestamp still inside the window, or zero
	// if the window is empty. Admission resets when this stamp expires.
	Oldest time.Time

	// Recorded reports whether the request's timestamp was recorded.
	// False means the subject was at or over the limit.
	Recorded bool
}

// CounterStore is the backing store for sliding-window request counters.
//
// Implementations MUST make Take atomic per key: prune, count, and
// conditional record happen as one operation. Two concurrent Take calls
// for the same key with one admission remaining must not both record.
//
// Thread Safety: Implementations must be safe for concurrent use.
type CounterStore interface {
	// Take prunes timestamps older than now-window, counts the remainder,
	// and records now if and only if the count is below limit.
	Take(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (TakeResult, error)

	// Peek prunes and counts without recording. Used for read-only status.
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (count int, oldest time.Time, err error)

	// Reset clears all recorded timestamps for the key.
	Reset(ctx context.Context, key string) error
}

// -----------------------------------------------------------------------------
// In-Memory Counter Store
// -----------------------------------------------------------------------------

// subjectWindow holds the recorded timestamps for one key.
// The per-key mutex makes prune+count+record atomic without serializing
// unrelated subjects behind one lock.
type subjectWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// prune drops stamps older than the window start. The window is
// inclusive on both ends, so a stamp exactly at windowStart still
// counts. Stamps are appended in time order, so the first in-window
// index splits kept from dropped.
func (w *subjectWindow) prune(windowStart time.Time) {
	cut := 0
	for cut < len(w.stamps) && w.stamps[cut].Before(windowStart) {
		cut++
	}
	if cut > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[cut:]...)
	}
}

// MemoryCounterStore is a process-local CounterStore.
//
// It is the default backing store and also serves as the degradation
// fallback when a shared store is configured but unreachable.
//
// Thread Safety: Safe for concurrent use.
type MemoryCounterStore struct {
	mu      sync.RWMutex
	windows map[string]*subjectWindow
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		windows: make(map[string]*subjectWindow),
	}
}

// window returns the subjectWindow for key, creating it if needed.
func (s *MemoryCounterStore) window(key string) *subjectWindow {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &subjectWindow{}
	s.windows[key] = w
	return w
}

// Take implements CounterStore. Prune, count, and conditional record run
// under the key's mutex as a single step.
func (s *MemoryCounterStore) Take(_ context.Context, key string, now time.Time, window time.Duration, limit int) (TakeResult, error) {
	w := s.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now.Add(-window))

	res := TakeResult{Count: len(w.stamps)}
	if res.Count < limit {
		w.stamps = append(w.stamps, now)
		res.Count++
		res.Recorded = true
	}
	if len(w.stamps) > 0 {
		res.Oldest = w.stamps[0]
	}
	return res, nil
}

// Peek implements CounterStore. Same pruning logic as Take, no recording.
func (s *MemoryCounterStore) Peek(_ context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	w := s.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now.Add(-window))

	var oldest time.Time
	if len(w.stamps) > 0 {
		oldest = w.stamps[0]
	}
	return len(w.stamps), oldest, nil
}

// Reset implements CounterStore.
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}
