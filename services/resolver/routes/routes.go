// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/supplement-resolver/services/resolver/discovery"
	"github.com/AleutianAI/supplement-resolver/services/resolver/embedding"
	"github.com/AleutianAI/supplement-resolver/services/resolver/handlers"
	"github.com/AleutianAI/supplement-resolver/services/resolver/middleware"
	"github.com/AleutianAI/supplement-resolver/services/resolver/observability"
	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
	"github.com/AleutianAI/supplement-resolver/services/resolver/search"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

// Deps carries the constructed components the routes need. conn and
// embedder may be nil in lightweight deployments; the readiness probe
// reports them as disabled.
type Deps struct {
	Search   *search.Service
	Queue    *discovery.Queue
	Limiter  *ratelimit.Limiter
	Metrics  *observability.ResolverMetrics
	Registry *prometheus.Registry
	Embedder embedding.Provider
	Mirror   *vectorstore.Conn
}

// SetupRoutes wires all HTTP surfaces. Probes and /metrics stay outside
// the rate-limited group so orchestration traffic never counts against
// client quotas.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(deps.Embedder, deps.Mirror))
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimit(deps.Limiter, deps.Metrics))
	{
		v1.POST("/search", handlers.HandleSearch(deps.Search))

		// Discovery queue administration routes
		disc := v1.Group("/discovery")
		{
			disc.GET("/items", handlers.ListDiscoveryItems(deps.Queue))
			disc.GET("/items/:id", handlers.GetDiscoveryItem(deps.Queue))
			disc.GET("/stats", handlers.GetDiscoveryStats(deps.Queue))
		}

		// Rate limit administration routes
		v1.GET("/limits/:subject", handlers.GetRateLimitStatus(deps.Limiter))
		v1.DELETE("/limits/:subject", handlers.ResetRateLimit(deps.Limiter))
	}
}
