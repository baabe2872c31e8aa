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
	"context"

	"golang.org/x/time/rate"
)

// DefaultProviderRate is the admitted calls per rolling second for the
// literature provider. NCBI E-utilities allows 3 requests per second for
// unauthenticated clients; exceeding it gets the source IP blocked.
const DefaultProviderRate = 3

// ProviderPacer bounds calls to an external rate-sensitive provider
// across all callers, independent of subject. The delay applies only to
// the call it gates; unrelated concurrent operations are never blocked.
//
// Thread Safety: Safe for concurrent use.
type ProviderPacer struct {
	limiter *rate.Limiter
}

// NewProviderPacer creates a pacer admitting eventsPerSecond calls per
// rolling second with the given burst. Zero or negative inputs take the
// defaults (3/s, burst 1).
func NewProviderPacer(eventsPerSecond float64, burst int) *ProviderPacer {
	if eventsPerSecond <= 0 {
		eventsPerSecond = DefaultProviderRate
	}
	if burst <= 0 {
		burst = 1
	}
	return &ProviderPacer{
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
}

// Wait blocks until the call may proceed or the context is done.
//
// Outputs:
//
//	error - Non-nil if the context is cancelled or its deadline would
//	expire before a token becomes available.
func (p *ProviderPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed right now, without blocking.
func (p *ProviderPacer) Allow() bool {
	return p.limiter.Allow()
}
