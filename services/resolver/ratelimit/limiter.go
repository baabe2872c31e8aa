// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit implements sliding-window request limiting per subject
// (IP or user), exponential backoff with jitter for external calls, and a
// global pacing limiter for rate-sensitive providers.
//
// Features:
//   - Atomic check-and-increment against the backing counter store
//   - Independent per-IP and per-user scopes
//   - Fail-closed store degradation with an in-process fallback window
//   - Pure backoff calculation suitable for retry loops
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownScope is returned for a scope without configuration.
	ErrUnknownScope = errors.New("unknown rate limit scope")
)

// -----------------------------------------------------------------------------
// Scopes
// -----------------------------------------------------------------------------

// Scope identifies an independent rate-limiting dimension.
type Scope string

const (
	// ScopeIP limits by client address over a short window.
	ScopeIP Scope = "ip"
	// ScopeUser limits by user id over a long window.
	ScopeUser Scope = "user"
)

// ScopeConfig holds the limit and window length for one scope.
type ScopeConfig struct {
	// Limit is the maximum number of admitted requests per window.
	Limit int

	// Window is the sliding window length.
	Window time.Duration
}

// -----------------------------------------------------------------------------
// Limiter Configuration
// -----------------------------------------------------------------------------

// Config configures the sliding-window limiter.
type Config struct {
	// Scopes maps each scope to its limit and window.
	// Default: per-IP 100/60s, per-user 1000/24h.
	Scopes map[Scope]ScopeConfig

	// FailOpen allows requests when the counter store is unreachable.
	// Default: false. The documented default behavior is fail-closed
	// with an in-process degradation window (see DegradationWindow);
	// silently always-allowing would defeat the limiter's purpose.
	FailOpen bool

	// DegradationWindow is how long the limiter keeps serving admission
	// decisions from its in-process fallback store after a primary store
	// failure, before retrying the primary.
	// Default: 30s.
	DegradationWindow time.Duration

	// Logger for limiter operations.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Scopes: map[Scope]ScopeConfig{
			ScopeIP:   {Limit: 100, Window: 60 * time.Second},
			ScopeUser: {Limit: 1000, Window: 24 * time.Hour},
		},
		FailOpen:          false,
		DegradationWindow: 30 * time.Second,
		Logger:            slog.Default(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Scopes) == 0 {
		return errors.New("at least one scope must be configured")
	}
	for scope, sc := range c.Scopes {
		if sc.Limit < 1 {
			return fmt.Errorf("scope %s: limit must be at least 1", scope)
		}
		if sc.Window <= 0 {
			return fmt.Errorf("scope %s: window must be positive", scope)
		}
	}
	if c.DegradationWindow < 0 {
		return errors.New("degradation_window must be non-negative")
	}
	return nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Scopes == nil {
		c.Scopes = defaults.Scopes
	}
	if c.DegradationWindow == 0 {
		c.DegradationWindow = defaults.DegradationWindow
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// -----------------------------------------------------------------------------
// Decision
// -----------------------------------------------------------------------------

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request was admitted. When true the
	// request's timestamp has already been recorded; admission and
	// recording are one atomic step.
	Allowed bool

	// Limit is the scope's configured limit.
	Limit int

	// Remaining is how many more requests the subject may make in the
	// current window. Non-increasing between admissions.
	Remaining int

	// ResetAt is when the oldest recorded request leaves the window.
	ResetAt time.Time

	// RetryAfter is how long a denied caller should wait. Zero when allowed.
	RetryAfter time.Duration
}

// -----------------------------------------------------------------------------
// Sliding Window Limiter
// -----------------------------------------------------------------------------

// Limiter is a sliding-window rate limiter with scope-independent counters.
//
// The admission check is a single atomic prune+count+conditional-record
// against the backing store; two concurrent requests from one subject can
// never both pass an exhausted limit.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
type Limiter struct {
	config   Config
	store    CounterStore
	fallback *MemoryCounterStore
	logger   *slog.Logger

	// lastStoreFailure is the Unix nano timestamp of the most recent
	// primary store failure, 0 if none. Drives the degradation window.
	lastStoreFailure atomic.Int64

	now func() time.Time // injectable clock for tests
}

// NewLimiter creates a limiter over the given counter store.
//
// Inputs:
//
//	store - Backing counter store. NewMemoryCounterStore() for in-process.
//	config - Limiter configuration. Zero values take defaults.
//
// Outputs:
//
//	*Limiter - Ready-to-use limiter.
//	error - Non-nil if configuration is invalid or store is nil.
//
// Thread Safety: Safe for concurrent use.
func NewLimiter(store CounterStore, config Config) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Limiter{
		config:   config,
		store:    store,
		fallback: NewMemoryCounterStore(),
		logger:   config.Logger.With(slog.String("component", "rate_limiter")),
		now:      time.Now,
	}, nil
}

// storageKey namespaces a subject by scope so per-IP and per-user
// counters never collide.
func storageKey(scope Scope, subjectKey string) string {
	return string(scope) + ":" + subjectKey
}

// CheckLimit runs an atomic admission check for the subject in the scope.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	subjectKey - IP address or user id.
//	scope - Which configured scope to check.
//
// Outputs:
//
//	Decision - Admission outcome with remaining quota and reset time.
//	error - Non-nil only for an unknown scope. Store failures are
//	handled internally per the configured failure policy.
//
// Thread Safety: Safe for concurrent use.
func (l *Limiter) CheckLimit(ctx context.Context, subjectKey string, scope Scope) (Decision, error) {
	sc, ok := l.config.Scopes[scope]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	now := l.now()
	key := storageKey(scope, subjectKey)

	res, err := l.take(ctx, key, now, sc)
	if err != nil {
		if l.config.FailOpen {
			l.logger.Error("counter store unreachable, failing open",
				slog.String("scope", string(scope)),
				slog.String("error", err.Error()))
			return Decision{Allowed: true, Limit: sc.Limit, Remaining: sc.Limit - 1, ResetAt: now.Add(sc.Window)}, nil
		}
		// Fail closed: deny this request; subsequent requests are served
		// by the in-process fallback for the degradation window.
		l.logger.Error("counter store unreachable, failing closed",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()))
		return Decision{
			Allowed:    false,
			Limit:      sc.Limit,
			Remaining:  0,
			ResetAt:    now.Add(l.config.DegradationWindow),
			RetryAfter: l.config.DegradationWindow,
		}, nil
	}

	return decisionFromTake(res, sc, now), nil
}

// take routes to the primary or the fallback store depending on the
// degradation state, recording primary failures as they happen.
func (l *Limiter) take(ctx context.Context, key string, now time.Time, sc ScopeConfig) (TakeResult, error) {
	if l.inDegradation(now) {
		return l.fallback.Take(ctx, key, now, sc.Window, sc.Limit)
	}

	res, err := l.store.Take(ctx, key, now, sc.Window, sc.Limit)
	if err == nil {
		return res, nil
	}

	l.lastStoreFailure.Store(now.UnixNano())
	l.logger.Warn("primary counter store failed, entering degradation window",
		slog.Duration("window", l.config.DegradationWindow),
		slog.String("error", err.Error()))
	return res, err
}

// inDegradation reports whether the limiter is currently serving from
// the fallback store.
func (l *Limiter) inDegradation(now time.Time) bool {
	last := l.lastStoreFailure.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) < l.config.DegradationWindow
}

// decisionFromTake converts a store result into a caller-facing decision.
func decisionFromTake(res TakeResult, sc ScopeConfig, now time.Time) Decision {
	resetAt := now.Add(sc.Window)
	if !res.Oldest.IsZero() {
		resetAt = res.Oldest.Add(sc.Window)
	}

	if res.Recorded {
		remaining := sc.Limit - res.Count
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: true, Limit: sc.Limit, Remaining: remaining, ResetAt: resetAt}
	}

	retryAfter := resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Limit:      sc.Limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

// GetStatus returns the subject's current standing without recording a
// request. Same pruning logic as CheckLimit, strictly read-only.
//
// Thread Safety: Safe for concurrent use.
func (l *Limiter) GetStatus(ctx context.Context, subjectKey string, scope Scope) (Decision, error) {
	sc, ok := l.config.Scopes[scope]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	now := l.now()
	key := storageKey(scope, subjectKey)

	store := CounterStore(l.store)
	if l.inDegradation(now) {
		store = l.fallback
	}

	count, oldest, err := store.Peek(ctx, key, now, sc.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("peek counter store: %w", err)
	}

	resetAt := now.Add(sc.Window)
	if !oldest.IsZero() {
		resetAt = oldest.Add(sc.Window)
	}
	remaining := sc.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < sc.Limit,
		Limit:     sc.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// ResetLimit clears all counters for the subject across every scope.
// Administrative escape hatch; also clears the in-process fallback.
//
// Thread Safety: Safe for concurrent use.
func (l *Limiter) ResetLimit(ctx context.Context, subjectKey string) error {
	var errs []error
	for scope := range l.config.Scopes {
		key := storageKey(scope, subjectKey)
		if err := l.store.Reset(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", key, err))
		}
		if err := l.fallback.Reset(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("reset fallback %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
