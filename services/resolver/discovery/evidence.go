// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery turns unresolved queries into vector-store entries.
// Misses land on a deduplicating queue; a background worker checks the
// scientific literature for each candidate and admits only terms with
// published evidence, so typos and junk queries never pollute the index.
package discovery

import "context"

// ValidationStatus classifies a discovered term by its evidence base.
type ValidationStatus string

const (
	// ValidationValid means enough published studies exist.
	ValidationValid ValidationStatus = "valid"
	// ValidationLowEvidence means some studies exist but below the
	// confidence bar; the entry is admitted but flagged.
	ValidationLowEvidence ValidationStatus = "low_evidence"
	// ValidationInvalid means no studies; the term is not admitted.
	ValidationInvalid ValidationStatus = "invalid"
)

// MinEvidenceForValid is the study count at which a term is considered
// established.
const MinEvidenceForValid = 5

// PrioritySearchThreshold is the search count above which an item is
// flagged for priority processing.
const PrioritySearchThreshold = 10

// ClassifyEvidence maps a study count to a validation status. Zero or
// negative counts are invalid.
func ClassifyEvidence(studyCount int) ValidationStatus {
	switch {
	case studyCount <= 0:
		return ValidationInvalid
	case studyCount < MinEvidenceForValid:
		return ValidationLowEvidence
	default:
		return ValidationValid
	}
}

// ShouldPrioritize reports whether a term's demand justifies jumping
// the queue. Strictly greater: exactly the threshold does not qualify.
func ShouldPrioritize(searchCount int64) bool {
	return searchCount > PrioritySearchThreshold
}

// LiteratureProvider counts published studies matching a query term.
//
// Thread Safety: Implementations must be safe for concurrent use; the
// worker fans out candidate queries in parallel.
type LiteratureProvider interface {
	CountStudies(ctx context.Context, term string) (int, error)
}
