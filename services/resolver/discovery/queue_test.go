// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package discovery

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemID_Deterministic(t *testing.T) {
	assert.Equal(t, ItemID("magnesium"), ItemID("magnesium"))
	assert.NotEqual(t, ItemID("magnesium"), ItemID("magnesio"))
}

func TestQueue_EnqueueDedup(t *testing.T) {
	q := NewQueue(QueueConfig{PriorityWeight: 2.0})

	first, created := q.Enqueue("Magnesio", "magnesio")
	require.True(t, created)
	assert.Equal(t, int64(1), first.SearchCount)
	assert.Equal(t, 2.0, first.Priority)
	assert.Equal(t, StatusPending, first.Status)

	second, created := q.Enqueue("magnesio ", "magnesio")
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.SearchCount)
	assert.Equal(t, 4.0, second.Priority)

	assert.Equal(t, 1, q.Stats().Pending)
}

func TestQueue_DequeueOrdering(t *testing.T) {
	q := NewQueue(QueueConfig{})

	q.Enqueue("a", "alpha")
	q.Enqueue("b", "beta")
	// Bump beta's priority above alpha's.
	q.Enqueue("b", "beta")
	q.Enqueue("b", "beta")

	item := q.Dequeue()
	require.NotNil(t, item)
	assert.Equal(t, "beta", item.Normalized)
	assert.Equal(t, StatusProcessing, item.Status)

	item = q.Dequeue()
	require.NotNil(t, item)
	assert.Equal(t, "alpha", item.Normalized)

	assert.Nil(t, q.Dequeue(), "empty queue returns nil")
}

func TestQueue_DequeueTieBreaksByCreation(t *testing.T) {
	q := NewQueue(QueueConfig{})
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	q.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	q.Enqueue("first", "first")
	q.Enqueue("second", "second")

	item := q.Dequeue()
	require.NotNil(t, item)
	assert.Equal(t, "first", item.Normalized, "equal priority dequeues oldest first")
}

func TestQueue_ConcurrentDequeueSingleWinner(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Enqueue("magnesio", "magnesio")

	const workers = 50
	var wg sync.WaitGroup
	wins := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if item := q.Dequeue(); item != nil {
				wins <- item.ID
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one worker claims the item")
}

func TestQueue_MarkCompleted(t *testing.T) {
	q := NewQueue(QueueConfig{})
	item, _ := q.Enqueue("magnesio", "magnesio")
	require.NotNil(t, q.Dequeue())

	require.NoError(t, q.MarkCompleted(item.ID, "sup-1", 12, ValidationValid))

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "sup-1", got.SupplementID)
	assert.Equal(t, 12, got.EvidenceCount)
	assert.Equal(t, ValidationValid, got.Validation)
	require.NotNil(t, got.ProcessedAt)
	assert.WithinDuration(t, time.Now(), *got.ProcessedAt, time.Minute)

	// Completed items are not dequeued again.
	assert.Nil(t, q.Dequeue())

	assert.ErrorIs(t, q.MarkCompleted("nope", "", 0, ValidationInvalid), ErrItemNotFound)
}

func TestItem_BoundaryJSONShape(t *testing.T) {
	q := NewQueue(QueueConfig{})
	item, _ := q.Enqueue("Magnesio", "magnesio")
	require.NotNil(t, q.Dequeue())
	require.NoError(t, q.MarkCompleted(item.ID, "sup-1", 12, ValidationValid))

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	data, err := json.Marshal(got)
	require.NoError(t, err)

	// Field names are part of the boundary contract, camelCase
	// throughout like the search result payload.
	for _, key := range []string{
		`"normalizedQuery"`, `"searchCount"`, `"supplementId"`,
		`"validationStatus"`, `"processedAt"`,
	} {
		assert.Contains(t, string(data), key)
	}
	assert.NotContains(t, string(data), `"search_count"`)
}

func TestQueue_FailedItemsRetryAfterWindow(t *testing.T) {
	q := NewQueue(QueueConfig{RetryAfter: 6 * time.Hour})
	current := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return current }

	item, _ := q.Enqueue("magnesio", "magnesio")
	require.NotNil(t, q.Dequeue())
	require.NoError(t, q.MarkFailed(item.ID, "pubmed down"))

	// Still inside the retry window.
	current = current.Add(5 * time.Hour)
	assert.Nil(t, q.Dequeue())

	// Window elapsed.
	current = current.Add(time.Hour)
	retried := q.Dequeue()
	require.NotNil(t, retried)
	assert.Equal(t, item.ID, retried.ID)
	assert.Equal(t, 2, retried.Attempts)
}

func TestQueue_Stats(t *testing.T) {
	q := NewQueue(QueueConfig{})
	a, _ := q.Enqueue("a", "alpha")
	q.Enqueue("b", "beta")
	require.NotNil(t, q.Dequeue())
	_ = a

	s := q.Stats()
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Processing)

	assert.Len(t, q.List(""), 2)
	assert.Len(t, q.List(StatusPending), 1)
}
