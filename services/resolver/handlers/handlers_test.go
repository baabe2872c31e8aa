// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/supplement-resolver/services/resolver/cache"
	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/discovery"
	"github.com/AleutianAI/supplement-resolver/services/resolver/legacy"
	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
	"github.com/AleutianAI/supplement-resolver/services/resolver/search"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fixedEmbedder maps every input to the same axis vector so seeded
// supplements on that axis always match.
type fixedEmbedder struct {
	healthErr error
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	v := make([]float32, datatypes.EmbeddingDim)
	v[0] = 1.0
	return v, nil
}

func (f *fixedEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}

func (f *fixedEmbedder) Health(context.Context) error { return f.healthErr }

func newSearchService(t *testing.T) (*search.Service, *vectorstore.Store, *discovery.Queue) {
	t.Helper()

	hot, err := cache.NewMemoryTier(cache.DefaultMemoryTierConfig())
	require.NoError(t, err)
	tiered, err := cache.NewTieredCache(
		[]cache.TierLevel{{Tier: hot, TTL: time.Minute}},
		cache.DefaultTieredConfig(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tiered.Close() })

	store := vectorstore.NewStore()
	queue := discovery.NewQueue(discovery.QueueConfig{})
	svc := search.NewService(tiered, store, &fixedEmbedder{}, legacy.NewMapping(nil), queue, nil, search.Config{})
	t.Cleanup(svc.Close)
	return svc, store, queue
}

func postSearch(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Search Handler Tests
// =============================================================================

func TestHandleSearch_ResolvesSeededSupplement(t *testing.T) {
	svc, store, _ := newSearchService(t)

	embedding := make([]float32, datatypes.EmbeddingDim)
	embedding[0] = 1.0
	_, err := store.Insert(context.Background(),
		*datatypes.NewSupplement("magnesium", "", nil, embedding))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/search", HandleSearch(svc))

	w := postSearch(router, `{"query": "magnesium"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result datatypes.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Supplement)
	assert.Equal(t, "magnesium", result.Supplement.NormalizedName)
}

func TestHandleSearch_MissIsStill200(t *testing.T) {
	svc, _, queue := newSearchService(t)

	router := gin.New()
	router.POST("/v1/search", HandleSearch(svc))

	w := postSearch(router, `{"query": "xylotriol"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result datatypes.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Nil(t, result.Supplement)
	assert.True(t, result.FallbackUsed)

	svc.Close()
	assert.Len(t, queue.List(discovery.StatusPending), 1)
}

func TestHandleSearch_TierFlags(t *testing.T) {
	svc, store, _ := newSearchService(t)

	embedding := make([]float32, datatypes.EmbeddingDim)
	embedding[0] = 1.0
	_, err := store.Insert(context.Background(),
		*datatypes.NewSupplement("magnesium", "", nil, embedding))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/search", HandleSearch(svc))

	// With the vector tier off the seeded match is out of reach, and
	// with the legacy fallback off nothing else can answer.
	w := postSearch(router, `{"query": "magnesium", "useVectorSearch": false, "fallbackToLegacy": false}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result datatypes.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.False(t, result.FallbackUsed)

	// Absent flags default to enabled.
	w = postSearch(router, `{"query": "magnesium"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestHandleSearch_InvalidBody(t *testing.T) {
	svc, _, _ := newSearchService(t)
	router := gin.New()
	router.POST("/v1/search", HandleSearch(svc))

	w := postSearch(router, `{"language": "es"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearch_RejectedQuery(t *testing.T) {
	svc, _, _ := newSearchService(t)
	router := gin.New()
	router.POST("/v1/search", HandleSearch(svc))

	w := postSearch(router, `{"query": "   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Discovery Handler Tests
// =============================================================================

func TestListDiscoveryItems_FilterAndCount(t *testing.T) {
	queue := discovery.NewQueue(discovery.QueueConfig{})
	queue.Enqueue("Berberine", "berberine")
	queue.Enqueue("Shilajit", "shilajit")

	router := gin.New()
	router.GET("/v1/discovery/items", ListDiscoveryItems(queue))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/discovery/items?status=pending", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []discovery.Item `json:"items"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/discovery/items?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDiscoveryItem(t *testing.T) {
	queue := discovery.NewQueue(discovery.QueueConfig{})
	item, _ := queue.Enqueue("Berberine", "berberine")

	router := gin.New()
	router.GET("/v1/discovery/items/:id", GetDiscoveryItem(queue))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/discovery/items/"+item.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got discovery.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "berberine", got.Normalized)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/discovery/items/ffffffffffffffff", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDiscoveryStats(t *testing.T) {
	queue := discovery.NewQueue(discovery.QueueConfig{})
	queue.Enqueue("Berberine", "berberine")

	router := gin.New()
	router.GET("/v1/discovery/stats", GetDiscoveryStats(queue))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/discovery/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats discovery.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pending)
}

func TestGetRateLimitStatus(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), ratelimit.DefaultConfig())
	require.NoError(t, err)

	router := gin.New()
	router.GET("/v1/limits/:subject", GetRateLimitStatus(limiter))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/limits/203.0.113.7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":100`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/limits/203.0.113.7?scope=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetRateLimit(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), ratelimit.DefaultConfig())
	require.NoError(t, err)

	router := gin.New()
	router.DELETE("/v1/limits/:subject", ResetRateLimit(limiter))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/limits/203.0.113.7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Health Handler Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestReadinessCheck_AllDisabled(t *testing.T) {
	router := gin.New()
	router.GET("/ready", ReadinessCheck(nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"disabled"`)
}

func TestReadinessCheck_UnhealthyEmbedderDegrades(t *testing.T) {
	router := gin.New()
	router.GET("/ready", ReadinessCheck(&fixedEmbedder{healthErr: errors.New("model loading")}, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), "model loading")
}
