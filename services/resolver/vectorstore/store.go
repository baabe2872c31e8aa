// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore holds the supplement embedding index.
//
// The authoritative index is the in-process Store: a flat cosine scan
// over at most a few thousand supplement vectors, which is faster than
// a network round trip at this corpus size and has no failure modes.
// A Weaviate mirror (see mirror.go) replicates the corpus for external
// consumers and survives restarts; the resolver reads from the Store
// and treats the mirror as write-behind.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

var (
	// ErrNotFound is returned when the requested supplement id is absent.
	ErrNotFound = errors.New("supplement not found")

	// ErrDuplicateID is returned when inserting an id that already exists.
	ErrDuplicateID = errors.New("supplement id already exists")
)

// Match is one search result: a supplement snapshot and its cosine
// similarity to the query vector.
type Match struct {
	Supplement datatypes.Supplement
	Similarity float64
}

// Store is the in-memory vector index.
//
// Thread Safety: Safe for concurrent use. Reads take a shared lock;
// Insert and IncrementSearchCount take the exclusive lock.
type Store struct {
	mu          sync.RWMutex
	supplements map[string]*datatypes.Supplement
	now         func() time.Time
}

// NewStore creates an empty index.
func NewStore() *Store {
	return &Store{
		supplements: make(map[string]*datatypes.Supplement),
		now:         time.Now,
	}
}

// Insert adds a supplement to the index.
//
// The embedding must have exactly datatypes.EmbeddingDim elements; a
// wrong-sized vector is rejected before any state changes. A missing ID
// gets a generated UUID. SearchCount always starts at zero regardless
// of the input value.
func (s *Store) Insert(_ context.Context, sup datatypes.Supplement) (string, error) {
	if sup.ID == "" {
		sup.ID = uuid.NewString()
	}
	if err := sup.Validate(); err != nil {
		return "", fmt.Errorf("rejecting supplement %q: %w", sup.Name, err)
	}

	stored := sup.Clone()
	stored.SearchCount = 0
	ts := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ts
	}
	stored.UpdatedAt = ts

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.supplements[stored.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID)
	}
	s.supplements[stored.ID] = stored
	return stored.ID, nil
}

// Get returns a copy of the supplement with the given id.
func (s *Store) Get(_ context.Context, id string) (*datatypes.Supplement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sup, ok := s.supplements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sup.Clone(), nil
}

// Search returns supplements whose cosine similarity to the query
// vector strictly exceeds minSimilarity, ordered by similarity
// descending with ties broken by ascending id, truncated to limit.
// No qualifying entry yields an empty slice, not an error.
func (s *Store) Search(_ context.Context, embedding []float32, limit int, minSimilarity float64) ([]Match, error) {
	if len(embedding) != datatypes.EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d",
			datatypes.ErrDimensionMismatch, len(embedding), datatypes.EmbeddingDim)
	}
	if limit <= 0 {
		return []Match{}, nil
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.supplements))
	for _, sup := range s.supplements {
		sim := CosineSimilarity(embedding, sup.Embedding)
		if sim > minSimilarity {
			matches = append(matches, Match{Supplement: *sup.Clone(), Similarity: sim})
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Supplement.ID < matches[j].Supplement.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// IncrementSearchCount bumps the resolution counter for a supplement
// and returns the new value.
func (s *Store) IncrementSearchCount(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.supplements[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sup.SearchCount++
	sup.UpdatedAt = s.now().UTC()
	return sup.SearchCount, nil
}

// Count returns the number of indexed supplements.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.supplements)
}

// All returns a snapshot of every indexed supplement, for mirror
// backfill and admin listings. Order is unspecified.
func (s *Store) All(_ context.Context) []datatypes.Supplement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.Supplement, 0, len(s.supplements))
	for _, sup := range s.supplements {
		out = append(out, *sup.Clone())
	}
	return out
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Either vector having zero magnitude yields 0, never NaN. Accumulation
// is in float64 to keep the result stable across input orderings.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
