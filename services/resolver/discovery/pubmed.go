// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
)

// DefaultPubMedBaseURL is the NCBI E-utilities endpoint.
const DefaultPubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedClient counts studies via the E-utilities esearch endpoint.
// Every request goes through the shared pacer: NCBI enforces 3 req/s
// per IP without an API key and bans offenders, so pacing is global
// across all workers, not per client.
//
// Thread Safety: Safe for concurrent use.
type PubMedClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pacer      *ratelimit.ProviderPacer
}

var _ LiteratureProvider = (*PubMedClient)(nil)

// NewPubMedClient creates a client. apiKey may be empty; pacer must be
// the process-wide instance.
func NewPubMedClient(baseURL, apiKey string, pacer *ratelimit.ProviderPacer) *PubMedClient {
	if baseURL == "" {
		baseURL = DefaultPubMedBaseURL
	}
	return &PubMedClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		pacer:      pacer,
	}
}

// esearchResult is the subset of the esearch JSON response we read.
type esearchResult struct {
	ESearchResult struct {
		Count string `json:"count"`
	} `json:"esearchresult"`
}

// CountStudies implements LiteratureProvider. Returns the number of
// PubMed records matching the term.
func (c *PubMedClient) CountStudies(ctx context.Context, term string) (int, error) {
	if term == "" {
		return 0, fmt.Errorf("empty search term")
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return 0, fmt.Errorf("pacer wait: %w", err)
		}
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmode", "json")
	params.Set("retmax", "0")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	endpoint := c.baseURL + "/esearch.fcgi?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("esearch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("esearch returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed esearchResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode esearch response: %w", err)
	}

	count, err := strconv.Atoi(parsed.ESearchResult.Count)
	if err != nil {
		return 0, fmt.Errorf("esearch count %q is not a number: %w", parsed.ESearchResult.Count, err)
	}
	return count, nil
}
