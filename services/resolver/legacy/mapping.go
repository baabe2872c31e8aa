// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package legacy is the last resolution fallback: a hand-maintained
// alias table mapping common supplement names, misspellings, and
// non-English forms to canonical records. It needs no embeddings, no
// network, and no state, which is exactly why it sits at the bottom of
// the chain. A YAML overlay file can extend or override the builtin
// table at runtime (see watcher.go for hot reload).
package legacy

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/supplement-resolver/pkg/validation"
)

// Entry is one canonical supplement in the fallback table.
type Entry struct {
	Name           string   `yaml:"name"`
	ScientificName string   `yaml:"scientific_name,omitempty"`
	Category       string   `yaml:"category,omitempty"`
	Aliases        []string `yaml:"aliases,omitempty"`
	PubMedQuery    string   `yaml:"pubmed_query,omitempty"`
}

// overlayFile is the YAML overlay document shape.
type overlayFile struct {
	Supplements []Entry `yaml:"supplements"`
}

// Mapping is the alias lookup table.
//
// Thread Safety: Safe for concurrent use. LoadOverlay swaps the whole
// index under the write lock, so readers never see a partial merge.
type Mapping struct {
	mu     sync.RWMutex
	index  map[string]*Entry
	logger *slog.Logger
}

// NewMapping builds the table from the builtin entries.
func NewMapping(logger *slog.Logger) *Mapping {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mapping{
		logger: logger.With(slog.String("component", "legacy.mapping")),
	}
	m.index = buildIndex(builtinEntries, nil)
	return m
}

// Lookup resolves a normalized query to a canonical entry. The query
// must already be normalized (validation.NormalizeQuery); Lookup
// normalizes again defensively since the table is also hit from admin
// tooling.
func (m *Mapping) Lookup(query string) (*Entry, bool) {
	key := validation.NormalizeQuery(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.index[key]
	if !ok {
		return nil, false
	}
	out := *entry
	out.Aliases = append([]string(nil), entry.Aliases...)
	return &out, true
}

// Size returns the number of distinct aliases in the index.
func (m *Mapping) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

// LoadOverlay reads a YAML overlay and rebuilds the index as builtin
// entries plus overlay entries, overlay winning on alias collisions.
// A broken overlay leaves the current index untouched.
func (m *Mapping) LoadOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overlay %q: %w", path, err)
	}

	var overlay overlayFile
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse overlay %q: %w", path, err)
	}
	for i, e := range overlay.Supplements {
		if e.Name == "" {
			return fmt.Errorf("overlay %q: entry %d has no name", path, i)
		}
	}

	index := buildIndex(builtinEntries, overlay.Supplements)

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()

	m.logger.Info("legacy overlay loaded",
		slog.String("path", path),
		slog.Int("overlay_entries", len(overlay.Supplements)),
		slog.Int("aliases", len(index)))
	return nil
}

// buildIndex maps every normalized alias (and the canonical name) to
// its entry. Later sources win on collision.
func buildIndex(base, overlay []Entry) map[string]*Entry {
	index := make(map[string]*Entry)
	for _, src := range [][]Entry{base, overlay} {
		for i := range src {
			entry := src[i]
			index[validation.NormalizeQuery(entry.Name)] = &entry
			for _, alias := range entry.Aliases {
				index[validation.NormalizeQuery(alias)] = &entry
			}
		}
	}
	return index
}

// builtinEntries covers the high-traffic supplements and the alias
// forms seen most often in query logs: translations, trade spellings,
// and chemical synonyms.
var builtinEntries = []Entry{
	{
		Name:           "magnesium",
		ScientificName: "Magnesium",
		Category:       "mineral",
		Aliases:        []string{"magnesio", "magnésium", "magnesium glycinate", "magnesium citrate", "mg"},
		PubMedQuery:    `"magnesium"[MeSH Terms]`,
	},
	{
		Name:           "vitamin d",
		ScientificName: "Cholecalciferol",
		Category:       "vitamin",
		Aliases:        []string{"vitamin d3", "vitamina d", "cholecalciferol", "d3"},
		PubMedQuery:    `"vitamin d"[MeSH Terms]`,
	},
	{
		Name:           "vitamin c",
		ScientificName: "Ascorbic acid",
		Category:       "vitamin",
		Aliases:        []string{"vitamina c", "ascorbic acid", "ascorbate"},
		PubMedQuery:    `"ascorbic acid"[MeSH Terms]`,
	},
	{
		Name:           "omega-3",
		ScientificName: "Omega-3 fatty acids",
		Category:       "fatty_acid",
		Aliases:        []string{"fish oil", "omega 3", "epa dha", "aceite de pescado"},
		PubMedQuery:    `"fatty acids, omega-3"[MeSH Terms]`,
	},
	{
		Name:           "melatonin",
		ScientificName: "N-acetyl-5-methoxytryptamine",
		Category:       "hormone",
		Aliases:        []string{"melatonina", "mélatonine"},
		PubMedQuery:    `"melatonin"[MeSH Terms]`,
	},
	{
		Name:           "ashwagandha",
		ScientificName: "Withania somnifera",
		Category:       "herb",
		Aliases:        []string{"withania somnifera", "indian ginseng", "winter cherry"},
		PubMedQuery:    `"withania"[MeSH Terms]`,
	},
	{
		Name:           "turmeric",
		ScientificName: "Curcuma longa",
		Category:       "herb",
		Aliases:        []string{"curcumin", "curcuma", "cúrcuma"},
		PubMedQuery:    `"curcumin"[MeSH Terms]`,
	},
	{
		Name:           "creatine",
		ScientificName: "Creatine monohydrate",
		Category:       "amino_acid",
		Aliases:        []string{"creatina", "creatine monohydrate"},
		PubMedQuery:    `"creatine"[MeSH Terms]`,
	},
	{
		Name:           "zinc",
		ScientificName: "Zinc",
		Category:       "mineral",
		Aliases:        []string{"zinc gluconate", "zinc picolinate", "zn"},
		PubMedQuery:    `"zinc"[MeSH Terms]`,
	},
	{
		Name:           "5-htp",
		ScientificName: "5-Hydroxytryptophan",
		Category:       "amino_acid",
		Aliases:        []string{"5 htp", "5-hydroxytryptophan", "oxitriptan"},
		PubMedQuery:    `"5-hydroxytryptophan"[MeSH Terms]`,
	},
	{
		Name:           "st. john's wort",
		ScientificName: "Hypericum perforatum",
		Category:       "herb",
		Aliases:        []string{"st johns wort", "hypericum", "hypericum perforatum", "hierba de san juan"},
		PubMedQuery:    `"hypericum"[MeSH Terms]`,
	},
	{
		Name:           "probiotics",
		ScientificName: "",
		Category:       "other",
		Aliases:        []string{"probiotic", "probioticos", "lactobacillus"},
		PubMedQuery:    `"probiotics"[MeSH Terms]`,
	},
	{
		Name:           "iron",
		ScientificName: "Iron",
		Category:       "mineral",
		Aliases:        []string{"hierro", "ferrous sulfate", "fe"},
		PubMedQuery:    `"iron"[MeSH Terms]`,
	},
	{
		Name:           "ginkgo biloba",
		ScientificName: "Ginkgo biloba",
		Category:       "herb",
		Aliases:        []string{"ginkgo", "ginko", "maidenhair tree"},
		PubMedQuery:    `"ginkgo biloba"[MeSH Terms]`,
	},
	{
		Name:           "coq10",
		ScientificName: "Ubiquinone",
		Category:       "other",
		Aliases:        []string{"coenzyme q10", "ubiquinone", "ubiquinol", "co q10"},
		PubMedQuery:    `"ubiquinone"[MeSH Terms]`,
	},
}
