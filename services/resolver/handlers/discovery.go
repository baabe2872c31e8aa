// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/supplement-resolver/services/resolver/discovery"
	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
)

// ListDiscoveryItems returns queued discovery items, optionally filtered
// by ?status=pending|processing|completed|failed.
func ListDiscoveryItems(queue *discovery.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := discovery.ItemStatus(c.Query("status"))
		switch status {
		case "", discovery.StatusPending, discovery.StatusProcessing,
			discovery.StatusCompleted, discovery.StatusFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
			return
		}

		items := queue.List(status)
		c.JSON(http.StatusOK, gin.H{
			"items": items,
			"count": len(items),
		})
	}
}

// GetDiscoveryItem returns a single queue item by id.
func GetDiscoveryItem(queue *discovery.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := queue.Get(c.Param("id"))
		if err != nil {
			if errors.Is(err, discovery.ErrItemNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// GetDiscoveryStats returns queue depth per status.
func GetDiscoveryStats(queue *discovery.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, queue.Stats())
	}
}

// GetRateLimitStatus reports the current quota for one subject in one
// scope (?scope=ip|user, default ip) without consuming it.
func GetRateLimitStatus(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := ratelimit.Scope(c.DefaultQuery("scope", string(ratelimit.ScopeIP)))
		decision, err := limiter.GetStatus(c.Request.Context(), c.Param("subject"), scope)
		if err != nil {
			if errors.Is(err, ratelimit.ErrUnknownScope) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown scope"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"allowed":   decision.Allowed,
			"limit":     decision.Limit,
			"remaining": decision.Remaining,
			"resetAt":   decision.ResetAt,
		})
	}
}

// ResetRateLimit clears all counters for one subject across scopes.
// Admin-only surface; the gateway is expected to gate access.
func ResetRateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.Param("subject")
		if subject == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
			return
		}
		if err := limiter.ResetLimit(c.Request.Context(), subject); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reset", "subject": subject})
	}
}
