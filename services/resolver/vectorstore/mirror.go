// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
)

// SupplementClassName is the Weaviate class holding the mirrored corpus.
const SupplementClassName = "Supplement"

// supplementSchema returns the class definition. Vectorizer is "none":
// embeddings are computed by the resolver and supplied with each object.
func supplementSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SupplementClassName,
		Description: "Canonical supplements with precomputed name embeddings",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "name",
				DataType:        []string{"text"},
				Description:     "Canonical normalized name",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "scientific_name",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:        "common_names",
				DataType:    []string{"text[]"},
				Description: "Aliases and translations, canonical name first",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:     "popularity",
				DataType: []string{"number"},
			},
			{
				Name:     "search_count",
				DataType: []string{"int"},
			},
			{
				Name:        "updated_at",
				DataType:    []string{"int"},
				Description: "Unix seconds",
			},
		},
	}
}

// supplementQueryResponse is the GraphQL response shape for nearVector
// queries against the Supplement class.
type supplementQueryResponse struct {
	Get struct {
		Supplement []struct {
			Name           string   `json:"name"`
			ScientificName string   `json:"scientific_name"`
			CommonNames    []string `json:"common_names"`
			Category       string   `json:"category"`
			Popularity     float64  `json:"popularity"`
			SearchCount    int64    `json:"search_count"`
			Additional     struct {
				ID        string   `json:"id"`
				Certainty *float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"Supplement"`
	} `json:"Get"`
}

// parseGraphQLResponse converts Weaviate's dynamic response payload
// into a typed struct via a marshal round trip.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &out, nil
}

// Mirror replicates the in-process Store into a Weaviate class so the
// corpus survives restarts and is queryable by external tooling. All
// writes go through the resilient Conn; a down mirror degrades to
// logged skips, never to request failures.
type Mirror struct {
	conn   *Conn
	logger *slog.Logger
}

// NewMirror wraps a connection. Call EnsureSchema before first use.
func NewMirror(conn *Conn, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		conn:   conn,
		logger: logger.With(slog.String("component", "vectorstore.mirror")),
	}
}

// EnsureSchema creates the Supplement class if it does not exist.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	return m.conn.Execute(ctx, "ensure_schema", func() error {
		exists, err := m.conn.Client().Schema().ClassExistenceChecker().
			WithClassName(SupplementClassName).Do(ctx)
		if err != nil {
			return fmt.Errorf("class existence check: %w", err)
		}
		if exists {
			return nil
		}
		if err := m.conn.Client().Schema().ClassCreator().
			WithClass(supplementSchema()).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", SupplementClassName, err)
		}
		m.logger.Info("created weaviate class", slog.String("class", SupplementClassName))
		return nil
	})
}

// Upsert writes one supplement with its vector. The store's UUID is
// reused as the Weaviate object id, so replays are idempotent.
func (m *Mirror) Upsert(ctx context.Context, sup datatypes.Supplement) error {
	props := map[string]interface{}{
		"name":            sup.Name,
		"scientific_name": sup.ScientificName,
		"common_names":    sup.CommonNames,
		"category":        sup.Category,
		"popularity":      sup.Popularity,
		"search_count":    sup.SearchCount,
		"updated_at":      sup.UpdatedAt.Unix(),
	}

	return m.conn.Execute(ctx, "upsert", func() error {
		exists, err := m.conn.Client().Data().Checker().
			WithClassName(SupplementClassName).WithID(sup.ID).Do(ctx)
		if err != nil {
			return fmt.Errorf("object existence check for %s: %w", sup.ID, err)
		}

		if exists {
			err = m.conn.Client().Data().Updater().
				WithClassName(SupplementClassName).
				WithID(sup.ID).
				WithProperties(props).
				WithVector(sup.Embedding).
				Do(ctx)
		} else {
			_, err = m.conn.Client().Data().Creator().
				WithClassName(SupplementClassName).
				WithID(sup.ID).
				WithProperties(props).
				WithVector(sup.Embedding).
				Do(ctx)
		}
		if err != nil {
			return fmt.Errorf("write object %s: %w", sup.ID, err)
		}
		return nil
	})
}

// Query runs a nearVector search against the mirror. Certainty maps to
// cosine similarity as cert = (1+cos)/2, so the threshold converts on
// the way in and results convert back on the way out.
func (m *Mirror) Query(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]Match, error) {
	if len(embedding) != datatypes.EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d",
			datatypes.ErrDimensionMismatch, len(embedding), datatypes.EmbeddingDim)
	}

	fields := []graphql.Field{
		{Name: "name"},
		{Name: "scientific_name"},
		{Name: "common_names"},
		{Name: "category"},
		{Name: "popularity"},
		{Name: "search_count"},
		{Name: "_additional { id certainty }"},
	}

	nearVector := m.conn.Client().GraphQL().NearVectorArgBuilder().
		WithVector(embedding).
		WithCertainty(float32((1 + minSimilarity) / 2))

	var matches []Match
	err := m.conn.Execute(ctx, "query", func() error {
		resp, err := m.conn.Client().GraphQL().Get().
			WithClassName(SupplementClassName).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("nearVector query: %w", err)
		}
		if len(resp.Errors) > 0 {
			return fmt.Errorf("nearVector query: %s", resp.Errors[0].Message)
		}

		parsed, err := parseGraphQLResponse[supplementQueryResponse](resp)
		if err != nil {
			return err
		}

		matches = make([]Match, 0, len(parsed.Get.Supplement))
		for _, obj := range parsed.Get.Supplement {
			sim := 0.0
			if obj.Additional.Certainty != nil {
				sim = 2**obj.Additional.Certainty - 1
			}
			if sim <= minSimilarity {
				continue
			}
			matches = append(matches, Match{
				Supplement: datatypes.Supplement{
					ID:             obj.Additional.ID,
					Name:           obj.Name,
					ScientificName: obj.ScientificName,
					CommonNames:    obj.CommonNames,
					Category:       obj.Category,
					Popularity:     int(obj.Popularity),
					SearchCount:    obj.SearchCount,
				},
				Similarity: sim,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Backfill replays the entire store into the mirror. Used at startup
// after schema creation and after mirror recovery. Individual object
// failures are logged and counted, not fatal.
func (m *Mirror) Backfill(ctx context.Context, store *Store) error {
	if err := m.EnsureSchema(ctx); err != nil {
		return err
	}

	supplements := store.All(ctx)
	failed := 0
	for i := range supplements {
		if err := m.Upsert(ctx, supplements[i]); err != nil {
			failed++
			m.logger.Warn("backfill upsert failed",
				slog.String("supplement_id", supplements[i].ID),
				slog.String("error", err.Error()))
		}
	}

	m.logger.Info("mirror backfill complete",
		slog.Int("total", len(supplements)),
		slog.Int("failed", failed))
	if failed == len(supplements) && failed > 0 {
		return fmt.Errorf("%w: all %d backfill writes failed", ErrMirrorUnavailable, failed)
	}
	return nil
}
