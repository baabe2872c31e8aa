// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

func embedService(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPProvider(srv.URL)
}

func fixedVector(fill float32) []float32 {
	v := make([]float32, datatypes.EmbeddingDim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestHTTPProvider_Embed(t *testing.T) {
	provider := embedService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batch_embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"magnesium"}, req.Texts)

		_ = json.NewEncoder(w).Encode(embedResponse{
			Model:   "bge-base-en-v1.5",
			Vectors: [][]float32{fixedVector(0.1)},
			Dim:     datatypes.EmbeddingDim,
		})
	})

	vec, err := provider.Embed(context.Background(), "magnesium")
	require.NoError(t, err)
	assert.Len(t, vec, datatypes.EmbeddingDim)
}

func TestHTTPProvider_EmptyText(t *testing.T) {
	provider := NewHTTPProvider("http://unused")
	_, err := provider.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = provider.BatchEmbed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHTTPProvider_RejectsWrongDimension(t *testing.T) {
	provider := embedService(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{
			Vectors: [][]float32{{0.1, 0.2, 0.3}},
			Dim:     3,
		})
	})

	_, err := provider.Embed(context.Background(), "magnesium")
	assert.ErrorIs(t, err, datatypes.ErrDimensionMismatch)
}

func TestHTTPProvider_RejectsVectorCountMismatch(t *testing.T) {
	provider := embedService(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{
			Vectors: [][]float32{fixedVector(0.1), fixedVector(0.2)},
		})
	})

	_, err := provider.BatchEmbed(context.Background(), []string{"magnesium"})
	assert.Error(t, err)
}

func TestHTTPProvider_ServerError(t *testing.T) {
	provider := embedService(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	_, err := provider.Embed(context.Background(), "magnesium")
	assert.Error(t, err)
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	provider := NewHTTPProvider("http://127.0.0.1:1")
	_, err := provider.Embed(context.Background(), "magnesium")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestHTTPProvider_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		provider := embedService(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			_ = json.NewEncoder(w).Encode(healthStatus{Status: "ok", Model: "bge-base-en-v1.5"})
		})
		assert.NoError(t, provider.Health(context.Background()))
	})

	t.Run("loading", func(t *testing.T) {
		provider := embedService(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(healthStatus{Status: "loading"})
		})
		assert.ErrorIs(t, provider.Health(context.Background()), ErrProviderUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		provider := NewHTTPProvider("http://127.0.0.1:1")
		assert.ErrorIs(t, provider.Health(context.Background()), ErrProviderUnavailable)
	})
}
