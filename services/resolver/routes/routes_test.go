// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/supplement-resolver/services/resolver/cache"
	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/discovery"
	"github.com/AleutianAI/supplement-resolver/services/resolver/legacy"
	"github.com/AleutianAI/supplement-resolver/services/resolver/observability"
	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
	"github.com/AleutianAI/supplement-resolver/services/resolver/search"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, string) ([]float32, error) {
	v := make([]float32, datatypes.EmbeddingDim)
	v[0] = 1.0
	return v, nil
}

func (noopEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = noopEmbedder{}.Embed(ctx, texts[i])
	}
	return out, nil
}

func (noopEmbedder) Health(context.Context) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	hot, err := cache.NewMemoryTier(cache.DefaultMemoryTierConfig())
	require.NoError(t, err)
	tiered, err := cache.NewTieredCache(
		[]cache.TierLevel{{Tier: hot, TTL: time.Minute}},
		cache.DefaultTieredConfig(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tiered.Close() })

	queue := discovery.NewQueue(discovery.QueueConfig{})
	svc := search.NewService(tiered, vectorstore.NewStore(), noopEmbedder{},
		legacy.NewMapping(nil), queue, nil, search.Config{})
	t.Cleanup(svc.Close)

	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), ratelimit.DefaultConfig())
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewResolverMetrics(registry)

	router := gin.New()
	SetupRoutes(router, Deps{
		Search:   svc,
		Queue:    queue,
		Limiter:  limiter,
		Metrics:  metrics,
		Registry: registry,
		Embedder: noopEmbedder{},
		Mirror:   nil,
	})
	return router
}

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := newTestRouter(t)

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/ready"},
		{"GET", "/metrics"},
		{"POST", "/v1/search"},
		{"GET", "/v1/discovery/items"},
		{"GET", "/v1/discovery/items/:id"},
		{"GET", "/v1/discovery/stats"},
		{"GET", "/v1/limits/:subject"},
		{"DELETE", "/v1/limits/:subject"},
	}

	registered := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range registered {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s should be registered", expected.method, expected.path)
	}
}

func TestSetupRoutes_ProbesBypassRateLimit(t *testing.T) {
	router := newTestRouter(t)

	// Far more requests than the per-IP limit; probes must never 429.
	for i := 0; i < 150; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestSetupRoutes_MetricsEndpointServes(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_APIRoutesAreRateLimited(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/discovery/stats", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
}
