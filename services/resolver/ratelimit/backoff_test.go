// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicy_Calculate(t *testing.T) {
	p := DefaultBackoffPolicy()

	t.Run("delay bounds per attempt", func(t *testing.T) {
		for attempt := 0; attempt < p.MaxRetries; attempt++ {
			b := p.Calculate(attempt)
			require.True(t, b.ShouldRetry, "attempt %d should retry", attempt)

			exp := p.BaseDelay * time.Duration(1<<uint(attempt))
			maxDelay := time.Duration(float64(exp) * (1 + p.JitterFraction))
			assert.GreaterOrEqual(t, b.Delay, exp, "attempt %d below exponential floor", attempt)
			assert.Less(t, b.Delay, maxDelay+time.Millisecond, "attempt %d above jitter ceiling", attempt)
		}
	})

	t.Run("consecutive delays roughly double", func(t *testing.T) {
		// With additive jitter in [0, 30%), the ratio of consecutive
		// delays is bounded by [2/1.3, 2*1.3] ⊂ [1.4, 2.6].
		for trial := 0; trial < 50; trial++ {
			for attempt := 0; attempt < p.MaxRetries-1; attempt++ {
				a := p.Calculate(attempt)
				b := p.Calculate(attempt + 1)
				require.True(t, a.ShouldRetry)
				require.True(t, b.ShouldRetry)

				ratio := float64(b.Delay) / float64(a.Delay)
				assert.GreaterOrEqual(t, ratio, 1.4)
				assert.LessOrEqual(t, ratio, 2.6)
			}
		}
	})

	t.Run("exhausted attempts stop retrying", func(t *testing.T) {
		for _, attempt := range []int{p.MaxRetries, p.MaxRetries + 1, p.MaxRetries + 100} {
			b := p.Calculate(attempt)
			assert.False(t, b.ShouldRetry)
			assert.Equal(t, time.Duration(0), b.Delay)
		}
	})

	t.Run("negative attempt treated as zero", func(t *testing.T) {
		b := p.Calculate(-1)
		assert.True(t, b.ShouldRetry)
		assert.GreaterOrEqual(t, b.Delay, p.BaseDelay)
	})
}

func TestProviderPacer(t *testing.T) {
	t.Run("burst admits immediately", func(t *testing.T) {
		p := NewProviderPacer(3, 3)
		for i := 0; i < 3; i++ {
			assert.True(t, p.Allow(), "call %d within burst should be admitted", i)
		}
		assert.False(t, p.Allow(), "call past burst should be paced")
	})

	t.Run("wait honors context cancellation", func(t *testing.T) {
		p := NewProviderPacer(1, 1)
		require.NoError(t, p.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := p.Wait(ctx)
		assert.Error(t, err)
	})

	t.Run("defaults applied for invalid inputs", func(t *testing.T) {
		p := NewProviderPacer(0, 0)
		assert.True(t, p.Allow())
	})
}
