// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEvidence(t *testing.T) {
	tests := []struct {
		count int
		want  ValidationStatus
	}{
		{-1, ValidationInvalid},
		{0, ValidationInvalid},
		{1, ValidationLowEvidence},
		{4, ValidationLowEvidence},
		{5, ValidationValid},
		{5000, ValidationValid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyEvidence(tt.count), "count=%d", tt.count)
	}
}

func TestShouldPrioritize(t *testing.T) {
	assert.False(t, ShouldPrioritize(0))
	assert.False(t, ShouldPrioritize(10), "threshold itself does not qualify")
	assert.True(t, ShouldPrioritize(11))
}
