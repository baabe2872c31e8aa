// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds gin middleware for the resolver service.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/observability"
	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
)

// UserIDHeader carries the authenticated user id set by the upstream
// gateway. Absent header means the request is only IP-limited.
const UserIDHeader = "X-User-ID"

// RateLimit enforces both admission scopes on every request. The IP
// scope always applies; the user scope applies when the gateway
// forwarded a user id. The first denied scope wins and the request is
// answered 429 with Retry-After semantics in headers and body.
//
// metrics may be nil.
func RateLimit(limiter *ratelimit.Limiter, metrics *observability.ResolverMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := []struct {
			scope   ratelimit.Scope
			subject string
		}{
			{ratelimit.ScopeIP, c.ClientIP()},
		}
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			checks = append(checks, struct {
				scope   ratelimit.Scope
				subject string
			}{ratelimit.ScopeUser, userID})
		}

		for _, check := range checks {
			decision, err := limiter.CheckLimit(c.Request.Context(), check.subject, check.scope)
			if err != nil {
				// Unknown scope is a wiring bug, not a client problem.
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					gin.H{"error": "rate limit check failed"})
				return
			}

			setLimitHeaders(c, decision)

			if !decision.Allowed {
				if metrics != nil {
					metrics.RateLimitDenialsTotal.WithLabelValues(string(check.scope)).Inc()
				}
				c.Header("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(decision.RetryAfter)))
				c.AbortWithStatusJSON(http.StatusTooManyRequests,
					datatypes.NewRateLimitExceededResponse(
						decision.Limit, decision.Remaining, decision.ResetAt, decision.RetryAfter))
				return
			}
		}

		c.Next()
	}
}

// setLimitHeaders exposes the current quota on every response, allowed
// or not, so well-behaved clients can pace themselves before hitting
// the wall.
func setLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
