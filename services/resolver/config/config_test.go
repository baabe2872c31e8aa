// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "12310", cfg.Server.Port)
	assert.Equal(t, 0.75, cfg.Search.MinSimilarity)
	assert.Equal(t, 6*time.Hour, cfg.Discovery.RetryAfter)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.yaml")
	content := `
server:
  port: "9000"
search:
  min_similarity: 0.85
mirror:
  url: "http://weaviate:8080"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 0.85, cfg.Search.MinSimilarity)
	assert.Equal(t, "http://weaviate:8080", cfg.Mirror.URL)
	// Untouched sections keep defaults.
	assert.Equal(t, 100, cfg.RateLimit.IPLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9000\"\n"), 0o644))
	t.Setenv("RESOLVER_PORT", "9100")
	t.Setenv("WEAVIATE_SERVICE_URL", "http://weaviate:8080")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "http://weaviate:8080", cfg.Mirror.URL)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ResolverConfig)
		wantErr bool
	}{
		{"defaults valid", func(c *ResolverConfig) {}, false},
		{"empty port", func(c *ResolverConfig) { c.Server.Port = "" }, true},
		{"unknown embedding backend", func(c *ResolverConfig) { c.Embedding.Backend = "cohere" }, true},
		{"http backend without url", func(c *ResolverConfig) { c.Embedding.BaseURL = "" }, true},
		{"openai backend without url ok", func(c *ResolverConfig) {
			c.Embedding.Backend = "openai"
			c.Embedding.BaseURL = ""
		}, false},
		{"zero ip limit", func(c *ResolverConfig) { c.RateLimit.IPLimit = 0 }, true},
		{"similarity out of range", func(c *ResolverConfig) { c.Search.MinSimilarity = 1.0 }, true},
		{"zero workers", func(c *ResolverConfig) { c.Discovery.Workers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
