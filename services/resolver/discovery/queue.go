// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrItemNotFound is returned for operations on an unknown item id.
var ErrItemNotFound = errors.New("discovery item not found")

// ItemStatus is the queue state of a discovery item.
type ItemStatus string

const (
	// StatusPending waits for a worker.
	StatusPending ItemStatus = "pending"
	// StatusProcessing is claimed by a worker.
	StatusProcessing ItemStatus = "processing"
	// StatusCompleted finished, with or without admission.
	StatusCompleted ItemStatus = "completed"
	// StatusFailed errored; becomes re-eligible after the retry window.
	StatusFailed ItemStatus = "failed"
)

// Item is one unresolved query awaiting discovery. The JSON shape is
// the external boundary contract, camelCase like the search results.
type Item struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Normalized  string     `json:"normalizedQuery"`
	SearchCount int64      `json:"searchCount"`
	Priority    float64    `json:"priority"`
	Status      ItemStatus `json:"status"`
	Attempts    int        `json:"attempts"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastFailedAt time.Time `json:"lastFailedAt,omitempty"`
	FailReason   string    `json:"failReason,omitempty"`

	// Set by MarkCompleted.
	SupplementID  string           `json:"supplementId,omitempty"`
	EvidenceCount int              `json:"evidenceCount,omitempty"`
	Validation    ValidationStatus `json:"validationStatus,omitempty"`
	ProcessedAt   *time.Time       `json:"processedAt,omitempty"`
}

// QueueStats is a point-in-time census of the queue.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	// PriorityWeight scales SearchCount into Priority. Default 1.0.
	PriorityWeight float64

	// RetryAfter is how long a failed item stays ineligible. Default 6h.
	RetryAfter time.Duration

	Logger *slog.Logger
}

func (c *QueueConfig) applyDefaults() {
	if c.PriorityWeight <= 0 {
		c.PriorityWeight = 1.0
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 6 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Queue is the deduplicating discovery queue.
//
// Thread Safety: Safe for concurrent use. Dequeue claims an item
// atomically (pending→processing under the lock), so two workers
// racing for the same item cannot both win.
type Queue struct {
	mu     sync.Mutex
	items  map[string]*Item
	config QueueConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue(config QueueConfig) *Queue {
	config.applyDefaults()
	return &Queue{
		items:  make(map[string]*Item),
		config: config,
		logger: config.Logger.With(slog.String("component", "discovery.queue")),
		now:    time.Now,
	}
}

// ItemID derives the deterministic id for a normalized query. The same
// query always maps to the same item, which is what makes Enqueue
// idempotent across restarts and replicas.
func ItemID(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// Enqueue registers an unresolved query. A new query becomes a pending
// item; a repeat bumps the existing item's SearchCount and recomputes
// its priority instead of growing the queue. Returns the item snapshot
// and whether it was newly created.
//
// Dedup is deliberately against items in ANY status, not just
// pending/processing: a completed-invalid item keeps absorbing repeat
// enqueues of the same junk query so it is never researched twice, and
// a failed item keeps accumulating demand while it waits out the retry
// window.
func (q *Queue) Enqueue(query, normalized string) (Item, bool) {
	id := ItemID(normalized)
	ts := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.items[id]; ok {
		item.SearchCount++
		item.Priority = float64(item.SearchCount) * q.config.PriorityWeight
		item.UpdatedAt = ts
		return *item, false
	}

	item := &Item{
		ID:          id,
		Query:       query,
		Normalized:  normalized,
		SearchCount: 1,
		Priority:    q.config.PriorityWeight,
		Status:      StatusPending,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	q.items[id] = item
	q.logger.Debug("discovery item enqueued",
		slog.String("item_id", id),
		slog.String("normalized", normalized))
	return *item, true
}

// Dequeue claims the highest-priority eligible item, moving it to
// processing. Eligible means pending, or failed with the retry window
// elapsed. Ties break by earliest CreatedAt. Returns nil when nothing
// is eligible.
func (q *Queue) Dequeue() *Item {
	ts := q.now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Item
	for _, item := range q.items {
		if !q.eligibleLocked(item, ts) {
			continue
		}
		if best == nil ||
			item.Priority > best.Priority ||
			(item.Priority == best.Priority && item.CreatedAt.Before(best.CreatedAt)) {
			best = item
		}
	}
	if best == nil {
		return nil
	}

	best.Status = StatusProcessing
	best.Attempts++
	best.UpdatedAt = ts
	snapshot := *best
	return &snapshot
}

func (q *Queue) eligibleLocked(item *Item, now time.Time) bool {
	switch item.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return now.Sub(item.LastFailedAt) >= q.config.RetryAfter
	default:
		return false
	}
}

// MarkCompleted finalizes an item after processing.
func (q *Queue) MarkCompleted(id, supplementID string, evidenceCount int, validation ValidationStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	ts := q.now().UTC()
	item.Status = StatusCompleted
	item.SupplementID = supplementID
	item.EvidenceCount = evidenceCount
	item.Validation = validation
	item.FailReason = ""
	item.ProcessedAt = &ts
	item.UpdatedAt = ts
	return nil
}

// MarkFailed records a processing failure. The item becomes eligible
// again once the retry window elapses.
func (q *Queue) MarkFailed(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	ts := q.now().UTC()
	item.Status = StatusFailed
	item.FailReason = reason
	item.LastFailedAt = ts
	item.UpdatedAt = ts

	q.logger.Warn("discovery item failed",
		slog.String("item_id", id),
		slog.String("normalized", item.Normalized),
		slog.String("reason", reason),
		slog.Int("attempts", item.Attempts))
	return nil
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return *item, nil
}

// List returns snapshots of all items with the given status, or all
// items when status is empty.
func (q *Queue) List(status ItemStatus) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		if status == "" || item.Status == status {
			out = append(out, *item)
		}
	}
	return out
}

// Stats counts items per status.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
