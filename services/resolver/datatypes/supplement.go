// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data contracts for the supplement
// resolver service: the canonical supplement record, cache entries, and the
// request/response shapes exposed at the HTTP boundary.
//
// All resolution sources (cache, vector store, legacy mapping) are adapted
// into the same response shape before leaving this service. Callers never
// need to branch on the source to know which fields exist.
package datatypes

import (
	"errors"
	"fmt"
	"time"
)

// EmbeddingDim is the fixed dimensionality of supplement embeddings.
// The embedding service runs a BGE-base model which produces 768-dim vectors.
// Any vector of a different length is rejected, never padded or truncated.
const EmbeddingDim = 768

// ErrDimensionMismatch is returned when an embedding does not have
// exactly EmbeddingDim elements.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// =============================================================================
// Supplement Entity
// =============================================================================

// Supplement is the canonical resolved record for one supplement.
//
// # Invariants
//
//   - Embedding always has exactly EmbeddingDim elements.
//   - CommonNames is non-empty and always contains Name.
//   - ID and CreatedAt are immutable after creation.
//   - SearchCount is monotonic; it only increases.
type Supplement struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ScientificName string            `json:"scientific_name,omitempty"`
	CommonNames    []string          `json:"common_names"`
	Category       string            `json:"category,omitempty"`
	Popularity     int               `json:"popularity"`
	Embedding      []float32         `json:"embedding"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SearchCount    int64             `json:"search_count"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewSupplement builds a supplement record, guaranteeing the CommonNames
// invariant (Name is always present in the alias set, deduplicated).
//
// The ID is left empty; the vector store assigns it on insert.
func NewSupplement(name, scientificName string, commonNames []string, embedding []float32) *Supplement {
	names := make([]string, 0, len(commonNames)+1)
	seen := make(map[string]struct{}, len(commonNames)+1)
	for _, n := range append([]string{name}, commonNames...) {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}

	now := time.Now().UTC()
	return &Supplement{
		Name:           name,
		ScientificName: scientificName,
		CommonNames:    names,
		Embedding:      embedding,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks the supplement invariants.
//
// Outputs:
//
//	error - Non-nil if the name is empty, the alias set does not contain
//	the name, or the embedding has the wrong dimension. Dimension errors
//	wrap ErrDimensionMismatch.
func (s *Supplement) Validate() error {
	if s.Name == "" {
		return errors.New("name must not be empty")
	}
	found := false
	for _, n := range s.CommonNames {
		if n == s.Name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("common_names must include the canonical name %q", s.Name)
	}
	if len(s.Embedding) != EmbeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(s.Embedding), EmbeddingDim)
	}
	return nil
}

// Clone returns a deep copy. Cache entries hold snapshots, not live
// pointers into the vector store, so staleness is bounded by TTL rather
// than by store mutation.
func (s *Supplement) Clone() *Supplement {
	if s == nil {
		return nil
	}
	out := *s
	out.CommonNames = append([]string(nil), s.CommonNames...)
	out.Embedding = append([]float32(nil), s.Embedding...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// =============================================================================
// Cache Entry
// =============================================================================

// CacheEntry is the immutable payload written to cache tiers.
//
// The key is the normalized query; the payload is a snapshot of the
// supplement that resolved it plus the embedding used for resolution.
// Updates are full overwrites, never merges.
type CacheEntry struct {
	Key          string     `json:"key"`
	Supplement   Supplement `json:"supplement"`
	Embedding    []float32  `json:"embedding,omitempty"`
	Similarity   float64    `json:"similarity"`
	ResolvedFrom string     `json:"resolved_from"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed"`
}

// Clone returns a deep copy. Tiers hand out copies so callers can never
// mutate a shared cached entry.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Supplement = *e.Supplement.Clone()
	out.Embedding = append([]float32(nil), e.Embedding...)
	return &out
}
