// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Search Boundary Types
// =============================================================================

// SearchRequest is the inbound HTTP request body for /v1/search.
type SearchRequest struct {
	// Query is the free-text supplement name. Length 1..200 after trimming.
	Query string `json:"query" binding:"required"`

	// Language is an optional BCP-47 hint (e.g. "es", "de"). The embedding
	// model is multilingual, so this is informational only.
	Language string `json:"language,omitempty"`

	// UseVectorSearch and FallbackToLegacy gate the optional resolution
	// tiers. Pointers so that an absent field means enabled.
	UseVectorSearch  *bool `json:"useVectorSearch,omitempty"`
	FallbackToLegacy *bool `json:"fallbackToLegacy,omitempty"`
}

// SearchSource identifies which resolution tier produced a result.
type SearchSource string

const (
	// SourceCache means the result came from a cache tier.
	SourceCache SearchSource = "cache"
	// SourceVector means the result came from vector similarity search.
	SourceVector SearchSource = "vector"
	// SourceLegacy means the result came from the static legacy mapping.
	SourceLegacy SearchSource = "legacy"
)

// SupplementPayload is the supplement shape returned at the boundary.
// It is identical regardless of resolution source.
type SupplementPayload struct {
	NormalizedName string         `json:"normalizedName"`
	ScientificName string         `json:"scientificName,omitempty"`
	CommonNames    []string       `json:"commonNames"`
	Category       string         `json:"category"`
	Popularity     int            `json:"popularity"`
	PubmedQuery    string         `json:"pubmedQuery"`
	PubmedFilters  string         `json:"pubmedFilters"`
	CachedData     map[string]any `json:"cachedData,omitempty"`
}

// SearchResult is the uniform response contract for a resolution attempt.
//
// Similarity is present only when Source == SourceVector. All other fields
// are populated for every source, including failures (Success=false with a
// populated Error, Supplement=nil).
type SearchResult struct {
	Success      bool               `json:"success"`
	Supplement   *SupplementPayload `json:"supplement"`
	Source       SearchSource       `json:"source,omitempty"`
	Similarity   *float64           `json:"similarity,omitempty"`
	LatencyMs    int64              `json:"latencyMs"`
	FallbackUsed bool               `json:"fallbackUsed"`
	Error        string             `json:"error,omitempty"`
}

// =============================================================================
// Rate Limit Boundary Types
// =============================================================================

// RateLimitExceededResponse is the 429 body, surfaced with Retry-After
// semantics in the HTTP headers.
type RateLimitExceededResponse struct {
	Allowed    bool   `json:"allowed"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"resetAt"`    // ISO-8601
	RetryAfter int    `json:"retryAfter"` // seconds
}

// NewRateLimitExceededResponse formats a denial for the boundary.
func NewRateLimitExceededResponse(limit, remaining int, resetAt time.Time, retryAfter time.Duration) RateLimitExceededResponse {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return RateLimitExceededResponse{
		Allowed:    false,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt.UTC().Format(time.RFC3339),
		RetryAfter: secs,
	}
}
