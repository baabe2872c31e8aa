// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the resolver service configuration from an
// optional YAML file with environment variable overrides. Load is
// explicit; callers own the returned value and there is no package
// singleton.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// ResolverConfig is the top-level service configuration.
type ResolverConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Legacy    LegacyConfig    `yaml:"legacy"`
	Search    SearchConfig    `yaml:"search"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`             // e.g. "12310"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // e.g. 15s
}

type CacheConfig struct {
	// Dir is the BadgerDB directory for the warm tier. Empty runs the
	// warm tier in memory (tests, ephemeral deployments).
	Dir     string        `yaml:"dir"`
	HotTTL  time.Duration `yaml:"hot_ttl"`
	WarmTTL time.Duration `yaml:"warm_ttl"`
}

type EmbeddingConfig struct {
	// Backend is "http" (local model server) or "openai".
	Backend string `yaml:"backend"`
	// BaseURL is the local embedding server, used by the http backend.
	BaseURL string `yaml:"base_url"`
	// Model overrides the openai backend's embedding model.
	Model string `yaml:"model"`
}

type MirrorConfig struct {
	// URL is the Weaviate endpoint. Empty disables the mirror entirely
	// (lightweight mode).
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	IPLimit    int           `yaml:"ip_limit"`
	IPWindow   time.Duration `yaml:"ip_window"`
	UserLimit  int           `yaml:"user_limit"`
	UserWindow time.Duration `yaml:"user_window"`
	FailOpen   bool          `yaml:"fail_open"`
}

type DiscoveryConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryAfter     time.Duration `yaml:"retry_after"`
	PriorityWeight float64       `yaml:"priority_weight"`
	// Workers is how many discovery workers poll the queue.
	Workers int `yaml:"workers"`
}

type LegacyConfig struct {
	// OverlayPath is an optional YAML overlay merged over the builtin
	// mapping table; watched for changes when set.
	OverlayPath string `yaml:"overlay_path"`
}

type SearchConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"`
}

type TelemetryConfig struct {
	// OTLPEndpoint is the collector gRPC address. Empty disables the
	// trace exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// =============================================================================
// Defaults / Load
// =============================================================================

// DefaultConfig returns the production defaults.
func DefaultConfig() ResolverConfig {
	return ResolverConfig{
		Server: ServerConfig{
			Port:            "12310",
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			HotTTL:  5 * time.Minute,
			WarmTTL: 24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			Backend: "http",
			BaseURL: "http://localhost:12320",
		},
		RateLimit: RateLimitConfig{
			IPLimit:    100,
			IPWindow:   60 * time.Second,
			UserLimit:  1000,
			UserWindow: 24 * time.Hour,
		},
		Discovery: DiscoveryConfig{
			PollInterval:   5 * time.Second,
			RetryAfter:     6 * time.Hour,
			PriorityWeight: 1.0,
			Workers:        1,
		},
		Search: SearchConfig{
			MinSimilarity: 0.75,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist), applies environment overrides, and validates.
func Load(path string) (ResolverConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults plus env are a complete configuration.
		case err != nil:
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse the config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets container environments override the file without
// rebuilding it.
func (c *ResolverConfig) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Server.Port, "RESOLVER_PORT")
	setString(&c.Mirror.URL, "WEAVIATE_SERVICE_URL")
	setString(&c.Embedding.Backend, "EMBEDDING_BACKEND")
	setString(&c.Embedding.BaseURL, "EMBEDDING_SERVICE_URL")
	setString(&c.Embedding.Model, "EMBEDDING_MODEL_NAME")
	setString(&c.Cache.Dir, "RESOLVER_CACHE_DIR")
	setString(&c.Legacy.OverlayPath, "LEGACY_OVERLAY_PATH")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Validate checks if the configuration is valid.
func (c *ResolverConfig) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}
	switch c.Embedding.Backend {
	case "http", "openai":
	default:
		return fmt.Errorf("embedding.backend must be http or openai, got %q", c.Embedding.Backend)
	}
	if c.Embedding.Backend == "http" && c.Embedding.BaseURL == "" {
		return errors.New("embedding.base_url is required for the http backend")
	}
	if c.RateLimit.IPLimit < 1 || c.RateLimit.UserLimit < 1 {
		return errors.New("rate limits must be at least 1")
	}
	if c.Search.MinSimilarity <= 0 || c.Search.MinSimilarity >= 1 {
		return errors.New("search.min_similarity must be in (0, 1)")
	}
	if c.Discovery.Workers < 1 {
		return errors.New("discovery.workers must be at least 1")
	}
	return nil
}
