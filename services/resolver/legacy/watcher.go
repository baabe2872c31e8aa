// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package legacy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last write
// event before reloading. Editors save in bursts; one reload per burst.
const DefaultDebounce = 250 * time.Millisecond

// OverlayWatcher hot-reloads the YAML overlay whenever the file
// changes. The parent directory is watched rather than the file itself
// because most editors replace files via rename, which drops a direct
// file watch.
//
// Thread Safety: Safe for concurrent use with Mapping readers; reloads
// go through Mapping.LoadOverlay which swaps atomically.
type OverlayWatcher struct {
	path     string
	mapping  *Mapping
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewOverlayWatcher creates a watcher for the overlay at path. The
// file does not need to exist yet; it is loaded when it appears.
func NewOverlayWatcher(path string, mapping *Mapping, logger *slog.Logger) (*OverlayWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve overlay path %q: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %q: %w", filepath.Dir(abs), err)
	}

	return &OverlayWatcher{
		path:     abs,
		mapping:  mapping,
		debounce: DefaultDebounce,
		logger:   logger.With(slog.String("component", "legacy.watcher")),
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Returns immediately; reloads happen on a
// background goroutine until Stop.
func (w *OverlayWatcher) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("watching legacy overlay", slog.String("path", w.path))
}

// Stop ends watching and waits for the reload goroutine. Idempotent.
func (w *OverlayWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *OverlayWatcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("overlay watch error", slog.String("error", err.Error()))

		case <-timerC:
			if err := w.mapping.LoadOverlay(w.path); err != nil {
				// Keep serving the previous table.
				w.logger.Warn("overlay reload failed, keeping previous mapping",
					slog.String("error", err.Error()))
			}
		}
	}
}
