// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding turns supplement names into dense vectors.
//
// Two providers ship: an HTTP client for a self-hosted transformer
// service (BGE-style, the default deployment) and an OpenAI-backed
// provider for environments without local inference. Both guarantee
// vectors of exactly datatypes.EmbeddingDim elements so every consumer
// downstream can rely on the fixed dimensionality.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput is returned for empty or nil inputs.
	ErrInvalidInput = errors.New("invalid embedding input")

	// ErrProviderUnavailable is returned when the backing service
	// cannot be reached or is not ready.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Provider computes text embeddings.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text. The result always
	// has exactly datatypes.EmbeddingDim elements.
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed returns one vector per input text, in order.
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Health reports whether the provider can serve requests.
	Health(ctx context.Context) error
}
