// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

// OpenAIProvider computes embeddings through the OpenAI API. Used in
// deployments without a local inference service. Dimensions are pinned
// to datatypes.EmbeddingDim via the API's dimension-reduction support
// so vectors from either provider are interchangeable in shape (though
// never in space: a corpus must be embedded by a single provider).
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates the provider. An empty model defaults to
// text-embedding-3-small.
func NewOpenAIProvider(apiKey string, model string) *OpenAIProvider {
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = openai.SmallEmbedding3
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  m,
	}
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	vectors, err := p.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// BatchEmbed implements Provider.
func (p *OpenAIProvider) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts is empty", ErrInvalidInput)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      p.model,
		Dimensions: datatypes.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts",
			len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if len(d.Embedding) != datatypes.EmbeddingDim {
			return nil, fmt.Errorf("%w: got %d elements, want %d",
				datatypes.ErrDimensionMismatch, len(d.Embedding), datatypes.EmbeddingDim)
		}
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Health implements Provider. A model listing doubles as an API key
// and connectivity check.
func (p *OpenAIProvider) Health(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}
