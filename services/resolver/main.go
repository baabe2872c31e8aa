// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/supplement-resolver/services/resolver/cache"
	"github.com/AleutianAI/supplement-resolver/services/resolver/config"
	"github.com/AleutianAI/supplement-resolver/services/resolver/discovery"
	"github.com/AleutianAI/supplement-resolver/services/resolver/embedding"
	"github.com/AleutianAI/supplement-resolver/services/resolver/legacy"
	"github.com/AleutianAI/supplement-resolver/services/resolver/observability"
	"github.com/AleutianAI/supplement-resolver/services/resolver/ratelimit"
	"github.com/AleutianAI/supplement-resolver/services/resolver/routes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/search"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

// pubmedRequestsPerSecond is NCBI's documented courtesy limit without
// an API key.
const pubmedRequestsPerSecond = 3

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("resolver-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Backend {
	case "openai":
		slog.Info("Using OpenAI embedding backend", "model", cfg.Model)
		return embedding.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"), cfg.Model), nil
	default:
		slog.Info("Using local embedding backend", "url", cfg.BaseURL)
		return embedding.NewHTTPProvider(cfg.BaseURL), nil
	}
}

func buildCache(cfg config.CacheConfig, logger *slog.Logger) (*cache.TieredCache, error) {
	hot, err := cache.NewMemoryTier(cache.DefaultMemoryTierConfig())
	if err != nil {
		return nil, err
	}

	warmCfg := cache.DefaultBadgerTierConfig(cfg.Dir)
	warmCfg.Logger = logger
	if cfg.Dir == "" {
		slog.Info("RESOLVER_CACHE_DIR not set, warm cache tier runs in memory")
		warmCfg.InMemory = true
	}
	warm, err := cache.NewBadgerTier(warmCfg)
	if err != nil {
		return nil, err
	}

	return cache.NewTieredCache(
		[]cache.TierLevel{
			{Tier: hot, TTL: cfg.HotTTL},
			{Tier: warm, TTL: cfg.WarmTTL},
		},
		cache.TieredConfig{Logger: logger},
	)
}

// watchGauges keeps the queue-depth and mirror-state gauges current.
func watchGauges(ctx context.Context, metrics *observability.ResolverMetrics,
	queue *discovery.Queue, conn *vectorstore.Conn) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := queue.Stats()
			metrics.DiscoveryQueueDepth.WithLabelValues(string(discovery.StatusPending)).Set(float64(stats.Pending))
			metrics.DiscoveryQueueDepth.WithLabelValues(string(discovery.StatusProcessing)).Set(float64(stats.Processing))
			metrics.DiscoveryQueueDepth.WithLabelValues(string(discovery.StatusCompleted)).Set(float64(stats.Completed))
			metrics.DiscoveryQueueDepth.WithLabelValues(string(discovery.StatusFailed)).Set(float64(stats.Failed))
			if conn != nil {
				metrics.MirrorStateGauge.Set(float64(conn.State()))
			}
		}
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("RESOLVER_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// --- Init the tracer ---
	if cfg.Telemetry.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage and cache tiers ---
	tiered, err := buildCache(cfg.Cache, logger)
	if err != nil {
		log.Fatalf("failed to build the cache tiers: %v", err)
	}
	defer func() {
		if err := tiered.Close(); err != nil {
			slog.Error("cache shutdown failed", "error", err)
		}
	}()

	store := vectorstore.NewStore()

	// --- Optional Weaviate mirror ---
	var conn *vectorstore.Conn
	var mirror *vectorstore.Mirror
	if cfg.Mirror.URL != "" {
		conn, err = vectorstore.NewConn(vectorstore.ConnConfig{
			URL:           cfg.Mirror.URL,
			StartDegraded: true,
			Logger:        logger,
		})
		if err != nil {
			log.Fatalf("invalid mirror configuration: %v", err)
		}
		defer func() { _ = conn.Close() }()

		mirror = vectorstore.NewMirror(conn, logger)
		go func() {
			bctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			if err := mirror.Backfill(bctx, store); err != nil {
				slog.Warn("mirror backfill failed, prober will retry connectivity", "error", err)
			}
		}()
	} else {
		slog.Info("WEAVIATE_SERVICE_URL not set. Running in lightweight mode (no mirror).")
	}

	// --- Embedding provider ---
	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		log.Fatalf("failed to initialize the embedding provider: %v", err)
	}

	// --- Legacy mapping with optional hot-reloaded overlay ---
	mapping := legacy.NewMapping(logger)
	if cfg.Legacy.OverlayPath != "" {
		if err := mapping.LoadOverlay(cfg.Legacy.OverlayPath); err != nil {
			slog.Warn("legacy overlay failed to load, using builtin table", "error", err)
		}
		watcher, err := legacy.NewOverlayWatcher(cfg.Legacy.OverlayPath, mapping, logger)
		if err != nil {
			slog.Warn("legacy overlay watcher unavailable", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// --- Rate limiter ---
	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.Scopes = map[ratelimit.Scope]ratelimit.ScopeConfig{
		ratelimit.ScopeIP:   {Limit: cfg.RateLimit.IPLimit, Window: cfg.RateLimit.IPWindow},
		ratelimit.ScopeUser: {Limit: cfg.RateLimit.UserLimit, Window: cfg.RateLimit.UserWindow},
	}
	limiterCfg.FailOpen = cfg.RateLimit.FailOpen
	limiterCfg.Logger = logger
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), limiterCfg)
	if err != nil {
		log.Fatalf("failed to initialize the rate limiter: %v", err)
	}

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewResolverMetrics(registry)

	// --- Discovery pipeline ---
	queue := discovery.NewQueue(discovery.QueueConfig{
		PriorityWeight: cfg.Discovery.PriorityWeight,
		RetryAfter:     cfg.Discovery.RetryAfter,
	})
	pacer := ratelimit.NewProviderPacer(pubmedRequestsPerSecond, pubmedRequestsPerSecond)
	pubmed := discovery.NewPubMedClient(discovery.DefaultPubMedBaseURL,
		os.Getenv("PUBMED_API_KEY"), pacer)
	for i := 0; i < cfg.Discovery.Workers; i++ {
		worker := discovery.NewWorker(queue, pubmed, embedder, store, mirror,
			discovery.WorkerConfig{
				PollInterval: cfg.Discovery.PollInterval,
				Metrics:      metrics,
				Logger:       logger,
			})
		go worker.Run(ctx)
	}

	go watchGauges(ctx, metrics, queue, conn)

	// --- Search orchestrator ---
	svc := search.NewService(tiered, store, embedder, mapping, queue, metrics,
		search.Config{
			MinSimilarity: cfg.Search.MinSimilarity,
			Logger:        logger,
		})
	defer svc.Close()

	router := gin.Default()
	router.Use(otelgin.Middleware("resolver-service"))
	routes.SetupRoutes(router, routes.Deps{
		Search:   svc,
		Queue:    queue,
		Limiter:  limiter,
		Metrics:  metrics,
		Registry: registry,
		Embedder: embedder,
		Mirror:   conn,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting the resolver server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
