// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin HTTP handlers for the resolver service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/search"
)

// HandleSearch resolves a free-text supplement query through the tiered
// pipeline. The response shape is uniform: a miss is still 200 with
// success=false, so clients never branch on the resolution path.
func HandleSearch(svc *search.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		opts := search.DefaultResolveOptions()
		if req.UseVectorSearch != nil {
			opts.UseVectorSearch = *req.UseVectorSearch
		}
		if req.FallbackToLegacy != nil {
			opts.FallbackToLegacy = *req.FallbackToLegacy
		}

		result, err := svc.Resolve(c.Request.Context(), req.Query, opts)
		if err != nil {
			if errors.Is(err, search.ErrInvalidQuery) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Search resolution failed", "query", req.Query, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution failed"})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
