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
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/supplement-resolver/services/resolver/embedding"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

// healthProbeTimeout bounds the embedder probe so a hung model server
// cannot stall the readiness endpoint.
const healthProbeTimeout = 3 * time.Second

// HealthCheck is the liveness probe. It answers as long as the process
// can serve HTTP.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessCheck reports per-dependency health. The resolver keeps
// serving through the legacy fallback when the embedder or the mirror
// is down, so a degraded dependency still answers 200; clients read
// the component breakdown to decide what to alert on.
//
// embedder and conn may be nil when the deployment runs without them.
func ReadinessCheck(embedder embedding.Provider, conn *vectorstore.Conn) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		components := gin.H{}

		if embedder != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
			if err := embedder.Health(ctx); err != nil {
				components["embedder"] = gin.H{"status": "unhealthy", "error": err.Error()}
				status = "degraded"
			} else {
				components["embedder"] = gin.H{"status": "ok"}
			}
			cancel()
		} else {
			components["embedder"] = gin.H{"status": "disabled"}
		}

		if conn != nil {
			state := conn.State()
			components["mirror"] = gin.H{"state": state.String()}
			if !conn.Available() {
				status = "degraded"
			}
		} else {
			components["mirror"] = gin.H{"state": "disabled"}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     status,
			"components": components,
		})
	}
}
