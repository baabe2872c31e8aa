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
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrMirrorUnavailable is returned when Weaviate is not reachable.
	ErrMirrorUnavailable = errors.New("weaviate mirror is not available")

	// ErrCircuitOpen is returned while the breaker is blocking requests.
	ErrCircuitOpen = errors.New("circuit breaker open, mirror requests blocked")

	// ErrConnClosed is returned after Close.
	ErrConnClosed = errors.New("mirror connection is closed")
)

// ConnState is the mirror connection state.
type ConnState int32

const (
	// ConnHealthy means requests flow normally.
	ConnHealthy ConnState = iota
	// ConnDegraded means Weaviate is unreachable but requests still probe it.
	ConnDegraded
	// ConnOpen means the breaker tripped and requests are blocked.
	ConnOpen
	// ConnHalfOpen means the breaker is letting one test request through.
	ConnHalfOpen
)

func (s ConnState) String() string {
	switch s {
	case ConnHealthy:
		return "healthy"
	case ConnDegraded:
		return "degraded"
	case ConnOpen:
		return "circuit_open"
	case ConnHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ConnConfig configures the resilient mirror connection.
type ConnConfig struct {
	// URL of the Weaviate server, e.g. "http://localhost:8080".
	URL string

	// RetryAttempts per Execute call. Default 3.
	RetryAttempts int

	// RetryBackoff is the initial retry delay, doubled per attempt and
	// capped at MaxRetryBackoff. Defaults 100ms / 5s.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// BreakerThreshold failures within BreakerWindow open the breaker;
	// it half-opens after BreakerCooldown. Defaults 5 / 30s / 30s.
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration

	// HealthInterval is the probe cadence when healthy; DegradedInterval
	// when not. Defaults 10s / 5s.
	HealthInterval   time.Duration
	DegradedInterval time.Duration
	HealthTimeout    time.Duration

	// StartDegraded lets construction succeed with Weaviate down. The
	// resolver sets this: the mirror is write-behind, not load-bearing.
	StartDegraded bool

	Logger *slog.Logger
}

func (c *ConnConfig) applyDefaults() {
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = 5 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerWindow == 0 {
		c.BreakerWindow = 30 * time.Second
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 10 * time.Second
	}
	if c.DegradedInterval == 0 {
		c.DegradedInterval = 5 * time.Second
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *ConnConfig) Validate() error {
	if c.URL == "" {
		return errors.New("weaviate url must not be empty")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	if c.BreakerThreshold < 0 {
		return errors.New("breaker_threshold must be non-negative")
	}
	return nil
}

// Conn wraps the Weaviate client with retry, a circuit breaker, and a
// background health prober.
//
// Thread Safety: Safe for concurrent use.
type Conn struct {
	client *weaviate.Client
	config ConnConfig
	logger *slog.Logger

	state    atomic.Int32
	openedAt atomic.Int64
	closed   atomic.Bool

	// Sliding failure window for the breaker.
	failMu   sync.Mutex
	failures []time.Time
	failIdx  int

	halfOpenBusy atomic.Bool

	probeCtx    context.Context
	probeCancel context.CancelFunc
	probeWg     sync.WaitGroup
}

// NewConn dials Weaviate and starts the health prober. With
// StartDegraded unset, an unreachable server fails construction.
func NewConn(config ConnConfig) (*Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mirror config: %w", err)
	}
	config.applyDefaults()

	scheme, host := "http", config.URL
	if strings.HasPrefix(config.URL, "https://") {
		scheme, host = "https", strings.TrimPrefix(config.URL, "https://")
	} else if strings.HasPrefix(config.URL, "http://") {
		host = strings.TrimPrefix(config.URL, "http://")
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	probeCtx, probeCancel := context.WithCancel(context.Background())
	conn := &Conn{
		client:      client,
		config:      config,
		logger:      config.Logger.With(slog.String("component", "vectorstore.mirror")),
		failures:    make([]time.Time, max(config.BreakerThreshold, 1)),
		probeCtx:    probeCtx,
		probeCancel: probeCancel,
	}
	conn.state.Store(int32(ConnDegraded))

	if err := conn.probe(context.Background()); err != nil {
		if !config.StartDegraded {
			probeCancel()
			return nil, fmt.Errorf("weaviate not available: %w", err)
		}
		conn.logger.Warn("weaviate unreachable at startup, mirror starts degraded",
			slog.String("url", config.URL),
			slog.String("error", err.Error()))
	} else {
		conn.setState(ConnHealthy)
	}

	conn.probeWg.Add(1)
	go conn.runProber()
	return conn, nil
}

// Client exposes the raw Weaviate client for schema and data calls.
func (c *Conn) Client() *weaviate.Client { return c.client }

// State returns the current connection state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Available reports whether requests should be attempted.
func (c *Conn) Available() bool {
	s := c.State()
	return s == ConnHealthy || s == ConnHalfOpen
}

// Execute runs fn under retry and breaker protection.
func (c *Conn) Execute(ctx context.Context, op string, fn func() error) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	ctx, span := otel.Tracer("vectorstore").Start(ctx, "mirror."+op,
		trace.WithAttributes(attribute.String("state", c.State().String())))
	defer span.End()

	switch c.State() {
	case ConnOpen:
		if !c.cooldownExpired() {
			span.SetStatus(codes.Error, "circuit open")
			return ErrCircuitOpen
		}
		c.setState(ConnHalfOpen)
		fallthrough
	case ConnHalfOpen:
		if !c.halfOpenBusy.CompareAndSwap(false, true) {
			span.SetStatus(codes.Error, "half-open busy")
			return ErrCircuitOpen
		}
		defer c.halfOpenBusy.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("delay_ms", delay.Milliseconds())))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			if c.State() == ConnHalfOpen {
				c.setState(ConnHealthy)
				c.resetFailures()
			}
			span.SetStatus(codes.Ok, "ok")
			return nil
		}
		if !retryable(lastErr) {
			break
		}
	}

	c.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "exhausted")
	return fmt.Errorf("%w: %v", ErrMirrorUnavailable, lastErr)
}

// Close stops the prober. Idempotent.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.probeCancel()
	c.probeWg.Wait()
	return nil
}

func (c *Conn) setState(next ConnState) {
	prev := ConnState(c.state.Swap(int32(next)))
	if prev != next {
		c.logger.Info("mirror state transition",
			slog.String("from", prev.String()),
			slog.String("to", next.String()))
	}
}

func (c *Conn) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	ready, err := c.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("readiness probe failed: %w", err)
	}
	if !ready {
		return ErrMirrorUnavailable
	}
	return nil
}

func (c *Conn) runProber() {
	defer c.probeWg.Done()
	for {
		interval := c.config.HealthInterval
		if c.State() != ConnHealthy {
			interval = c.config.DegradedInterval
		}
		select {
		case <-c.probeCtx.Done():
			return
		case <-time.After(interval):
		}

		err := c.probe(c.probeCtx)
		switch state := c.State(); {
		case err == nil && (state == ConnDegraded || state == ConnHalfOpen):
			c.setState(ConnHealthy)
			c.resetFailures()
		case err == nil && state == ConnOpen:
			// The breaker recovers via a half-open test request, not
			// a probe, so only arm the test here.
			if c.cooldownExpired() {
				c.setState(ConnHalfOpen)
			}
		case err != nil && state == ConnHealthy:
			c.setState(ConnDegraded)
		}
	}
}

func (c *Conn) recordFailure() {
	c.failMu.Lock()
	defer c.failMu.Unlock()

	now := time.Now()
	c.failures[c.failIdx] = now
	c.failIdx = (c.failIdx + 1) % len(c.failures)

	cutoff := now.Add(-c.config.BreakerWindow)
	count := 0
	for _, t := range c.failures {
		if !t.IsZero() && t.After(cutoff) {
			count++
		}
	}

	if count >= c.config.BreakerThreshold {
		if c.State() != ConnOpen {
			c.openedAt.Store(now.Unix())
			c.setState(ConnOpen)
			c.logger.Warn("mirror circuit breaker opened",
				slog.Int("failures", count),
				slog.Duration("window", c.config.BreakerWindow))
		}
	} else if c.State() == ConnHealthy {
		c.setState(ConnDegraded)
	}
}

func (c *Conn) resetFailures() {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	for i := range c.failures {
		c.failures[i] = time.Time{}
	}
	c.failIdx = 0
}

func (c *Conn) cooldownExpired() bool {
	return time.Since(time.Unix(c.openedAt.Load(), 0)) >= c.config.BreakerCooldown
}

func (c *Conn) retryDelay(attempt int) time.Duration {
	d := c.config.RetryBackoff * time.Duration(1<<attempt)
	if d > c.config.MaxRetryBackoff {
		d = c.config.MaxRetryBackoff
	}
	// ±25% jitter so retries from concurrent callers spread out.
	jitter := (rand.Float64()*2 - 1) * 0.25 * float64(d)
	d = time.Duration(float64(d) + jitter)
	if d < 0 {
		d = c.config.RetryBackoff
	}
	return d
}

// retryable reports whether the error is worth another attempt.
// Network-level failures are; application errors and cancellations
// are not.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
