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
	"math/rand"
	"time"
)

// -----------------------------------------------------------------------------
// Backoff
// -----------------------------------------------------------------------------

// Default backoff parameters for external provider calls.
const (
	// DefaultBaseDelay is the delay for attempt 0.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxRetries is the attempt at which retrying stops.
	DefaultMaxRetries = 5

	// DefaultJitterFraction is the upper bound of the uniform jitter
	// added to each delay, as a fraction of the exponential delay.
	DefaultJitterFraction = 0.3
)

// Backoff is the outcome of a backoff calculation.
type Backoff struct {
	// ShouldRetry is false once the attempt count reaches MaxRetries.
	ShouldRetry bool

	// Delay is how long to wait before the next attempt. Zero when
	// ShouldRetry is false.
	Delay time.Duration
}

// BackoffPolicy computes exponential backoff with additive jitter.
//
// The delay for attempt n is BaseDelay * 2^n plus a uniform random jitter
// in [0, JitterFraction) of that value. Aside from the jitter randomness
// the calculation is a pure function of the attempt number; the policy
// holds no retry state.
type BackoffPolicy struct {
	// BaseDelay is the delay for attempt 0. Default: 1s.
	BaseDelay time.Duration

	// MaxRetries is the maximum number of retries. Calculate returns
	// ShouldRetry=false for attempt >= MaxRetries. Default: 5.
	MaxRetries int

	// JitterFraction is the exclusive upper bound of the uniform jitter
	// as a fraction of the exponential delay. Default: 0.3.
	JitterFraction float64
}

// DefaultBackoffPolicy returns the standard policy for provider retries.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:      DefaultBaseDelay,
		MaxRetries:     DefaultMaxRetries,
		JitterFraction: DefaultJitterFraction,
	}
}

// Calculate returns the backoff for the given attempt (0-based).
//
// Inputs:
//
//	attempt - Number of attempts already made. Negative values are
//	treated as 0.
//
// Outputs:
//
//	Backoff - ShouldRetry=false and Delay=0 once attempt >= MaxRetries.
func (p BackoffPolicy) Calculate(attempt int) Backoff {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= p.MaxRetries {
		return Backoff{ShouldRetry: false, Delay: 0}
	}

	delay := p.BaseDelay * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Float64() * p.JitterFraction * float64(delay))
	return Backoff{ShouldRetry: true, Delay: delay + jitter}
}
