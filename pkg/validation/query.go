// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries or forwarded to external providers. Using these validators
// prevents injection attacks (GraphQL injection, query-string injection) and
// keeps oversized or binary garbage out of the resolution pipeline.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryLength is the maximum accepted query length after trimming.
const MaxQueryLength = 200

// whitespacePattern collapses runs of internal whitespace to one space.
var whitespacePattern = regexp.MustCompile(`\s+`)

// unsafePattern matches characters that have no business in a supplement
// name and are common carriers for injection payloads: angle brackets,
// braces, backslashes, semicolons, backticks, dollar signs, and control
// characters. Unicode letters, digits, spaces, and the punctuation that
// legitimately appears in supplement names (hyphens, apostrophes, commas,
// periods, parentheses, plus signs, slashes) all pass.
var unsafePattern = regexp.MustCompile("[<>{}\\\\;`$\x00-\x1f\x7f]")

// NormalizeQuery canonicalizes a free-text query: trims surrounding
// whitespace, lowercases, and collapses internal whitespace runs to a
// single space. Normalized queries are used as cache keys and discovery
// queue dedup ids, so this must be deterministic.
//
// Example:
//
//	validation.NormalizeQuery("  Vitamin   D3 ")  // "vitamin d3"
func NormalizeQuery(query string) string {
	q := strings.TrimSpace(query)
	q = strings.ToLower(q)
	return whitespacePattern.ReplaceAllString(q, " ")
}

// ValidateQuery validates a raw query before any core component sees it.
//
// Valid queries:
//   - 1 to MaxQueryLength characters after trimming
//   - free of control characters and injection-prone punctuation
//
// Returns an error if the query is invalid. Rejection happens at the
// boundary with no side effects on caches, stores, or the discovery queue.
//
// Example:
//
//	if err := validation.ValidateQuery(req.Query); err != nil {
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	    return
//	}
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(trimmed) > MaxQueryLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", MaxQueryLength)
	}
	if loc := unsafePattern.FindStringIndex(trimmed); loc != nil {
		return fmt.Errorf("query contains disallowed character at position %d", loc[0])
	}
	return nil
}
