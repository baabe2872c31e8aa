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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/supplement-resolver/services/resolver/datatypes"
	"github.com/AleutianAI/supplement-resolver/services/resolver/embedding"
	"github.com/AleutianAI/supplement-resolver/services/resolver/observability"
	"github.com/AleutianAI/supplement-resolver/services/resolver/vectorstore"
)

// WorkerConfig configures the discovery worker.
type WorkerConfig struct {
	// PollInterval between queue checks when the queue is empty.
	// Default 5s.
	PollInterval time.Duration

	// ItemTimeout bounds the processing of one item end to end.
	// Default 60s.
	ItemTimeout time.Duration

	// Metrics may be nil (tests).
	Metrics *observability.ResolverMetrics

	Logger *slog.Logger
}

func (c *WorkerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Worker drains the discovery queue: for each claimed item it counts
// published studies, classifies the evidence, and admits qualifying
// terms into the vector index. Invalid terms complete without
// admission so the same junk query is never researched twice.
type Worker struct {
	queue      *Queue
	literature LiteratureProvider
	embedder   embedding.Provider
	store      *vectorstore.Store
	mirror     *vectorstore.Mirror // optional
	config     WorkerConfig
	logger     *slog.Logger

	bg sync.WaitGroup
}

// NewWorker wires a worker. mirror may be nil.
func NewWorker(
	queue *Queue,
	literature LiteratureProvider,
	embedder embedding.Provider,
	store *vectorstore.Store,
	mirror *vectorstore.Mirror,
	config WorkerConfig,
) *Worker {
	config.applyDefaults()
	return &Worker{
		queue:      queue,
		literature: literature,
		embedder:   embedder,
		store:      store,
		mirror:     mirror,
		config:     config,
		logger:     config.Logger.With(slog.String("component", "discovery.worker")),
	}
}

// Run processes items until ctx is cancelled. Blocks; start it on its
// own goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("discovery worker started",
		slog.Duration("poll_interval", w.config.PollInterval))

	for {
		item := w.queue.Dequeue()
		if item == nil {
			select {
			case <-ctx.Done():
				w.bg.Wait()
				w.logger.Info("discovery worker stopped")
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		w.ProcessItem(ctx, item)

		select {
		case <-ctx.Done():
			w.bg.Wait()
			w.logger.Info("discovery worker stopped")
			return
		default:
		}
	}
}

// ProcessItem researches one claimed item and finalizes it.
func (w *Worker) ProcessItem(ctx context.Context, item *Item) {
	ctx, cancel := context.WithTimeout(ctx, w.config.ItemTimeout)
	defer cancel()

	count, err := w.bestEvidenceCount(ctx, item.Normalized)
	if err != nil {
		_ = w.queue.MarkFailed(item.ID, fmt.Sprintf("literature search: %v", err))
		w.recordOutcome("failed")
		return
	}

	validation := ClassifyEvidence(count)
	if validation == ValidationInvalid {
		// Completed without admission: the negative result is the
		// answer, and it is remembered.
		if err := w.queue.MarkCompleted(item.ID, "", count, validation); err != nil {
			w.logger.Warn("mark completed failed", slog.String("error", err.Error()))
		}
		w.logger.Info("discovery rejected term",
			slog.String("normalized", item.Normalized),
			slog.Int("evidence_count", count))
		w.recordOutcome(string(validation))
		return
	}

	vec, err := w.embedder.Embed(ctx, item.Normalized)
	if err != nil {
		_ = w.queue.MarkFailed(item.ID, fmt.Sprintf("embedding: %v", err))
		w.recordOutcome("failed")
		return
	}

	sup := datatypes.NewSupplement(item.Normalized, "", []string{item.Query}, vec)
	sup.Category = "discovered"
	sup.Metadata = map[string]string{
		"evidence_count": fmt.Sprintf("%d", count),
		"validation":     string(validation),
		"source_query":   item.Query,
	}

	id, err := w.store.Insert(ctx, *sup)
	if err != nil {
		_ = w.queue.MarkFailed(item.ID, fmt.Sprintf("vector insert: %v", err))
		w.recordOutcome("failed")
		return
	}

	if w.mirror != nil {
		stored, getErr := w.store.Get(ctx, id)
		if getErr == nil {
			w.bg.Add(1)
			go func() {
				defer w.bg.Done()
				mctx, mcancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer mcancel()
				if err := w.mirror.Upsert(mctx, *stored); err != nil {
					w.logger.Warn("mirror upsert failed",
						slog.String("supplement_id", id),
						slog.String("error", err.Error()))
				}
			}()
		}
	}

	if err := w.queue.MarkCompleted(item.ID, id, count, validation); err != nil {
		w.logger.Warn("mark completed failed", slog.String("error", err.Error()))
		return
	}

	w.recordOutcome(string(validation))
	w.logger.Info("discovery admitted term",
		slog.String("normalized", item.Normalized),
		slog.String("supplement_id", id),
		slog.Int("evidence_count", count),
		slog.String("validation", string(validation)),
		slog.Bool("prioritized", ShouldPrioritize(item.SearchCount)))
}

func (w *Worker) recordOutcome(outcome string) {
	if w.config.Metrics != nil {
		w.config.Metrics.DiscoveryProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

// bestEvidenceCount fans the candidate query forms out in parallel and
// keeps the highest count. One failing candidate is tolerated as long
// as another succeeds; all failing is an error.
func (w *Worker) bestEvidenceCount(ctx context.Context, normalized string) (int, error) {
	candidates := candidateQueries(normalized)

	var mu sync.Mutex
	best := -1
	var lastErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(candidates))
	for _, term := range candidates {
		g.Go(func() error {
			count, err := w.literature.CountStudies(gctx, term)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil // tolerate, another candidate may succeed
			}
			if count > best {
				best = count
			}
			return nil
		})
	}
	_ = g.Wait()

	if best < 0 {
		if lastErr != nil {
			return 0, lastErr
		}
		return 0, fmt.Errorf("no candidate queries produced a count")
	}
	return best, nil
}

// candidateQueries derives the search forms tried for a term. The bare
// term over-matches and the field-scoped form under-matches; the max
// across them is the fairest evidence estimate.
func candidateQueries(normalized string) []string {
	return []string{
		normalized,
		fmt.Sprintf("%q[Title/Abstract]", normalized),
		normalized + " supplementation",
	}
}
