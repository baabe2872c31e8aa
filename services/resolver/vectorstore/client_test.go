// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func degradedConn(t *testing.T, mutate func(*ConnConfig)) *Conn {
	t.Helper()
	cfg := ConnConfig{
		// Unroutable port; construction succeeds because StartDegraded.
		URL:           "http://127.0.0.1:1",
		StartDegraded: true,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	conn, err := NewConn(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnConfig_Validate(t *testing.T) {
	cfg := ConnConfig{}
	assert.Error(t, cfg.Validate(), "empty url must be rejected")

	cfg = ConnConfig{URL: "http://localhost:8080", RetryAttempts: -1}
	assert.Error(t, cfg.Validate())

	cfg = ConnConfig{URL: "http://localhost:8080"}
	assert.NoError(t, cfg.Validate())
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "healthy", ConnHealthy.String())
	assert.Equal(t, "degraded", ConnDegraded.String())
	assert.Equal(t, "circuit_open", ConnOpen.String())
	assert.Equal(t, "half_open", ConnHalfOpen.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}

func TestConn_StartsDegradedWithoutServer(t *testing.T) {
	conn := degradedConn(t, nil)
	assert.Equal(t, ConnDegraded, conn.State())
	assert.False(t, conn.Available())
}

func TestConn_ExecuteSuccessPath(t *testing.T) {
	conn := degradedConn(t, nil)

	calls := 0
	err := conn.Execute(context.Background(), "test", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestConn_ExecuteRetriesNetworkErrors(t *testing.T) {
	conn := degradedConn(t, func(c *ConnConfig) {
		c.RetryAttempts = 2
		c.BreakerThreshold = 100
	})

	calls := 0
	err := conn.Execute(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConn_ExecuteDoesNotRetryApplicationErrors(t *testing.T) {
	conn := degradedConn(t, func(c *ConnConfig) {
		c.RetryAttempts = 3
		c.BreakerThreshold = 100
	})

	calls := 0
	appErr := errors.New("class not found")
	err := conn.Execute(context.Background(), "test", func() error {
		calls++
		return appErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMirrorUnavailable)
	assert.Equal(t, 1, calls, "application errors must not be retried")
}

func TestConn_BreakerOpensAndBlocks(t *testing.T) {
	conn := degradedConn(t, func(c *ConnConfig) {
		c.RetryAttempts = 0
		c.BreakerThreshold = 3
		c.BreakerCooldown = time.Hour
	})

	fail := func() error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = conn.Execute(context.Background(), "test", fail)
	}
	assert.Equal(t, ConnOpen, conn.State())

	calls := 0
	err := conn.Execute(context.Background(), "test", func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "open breaker must block without invoking fn")
}

func TestConn_HalfOpenRecovers(t *testing.T) {
	conn := degradedConn(t, func(c *ConnConfig) {
		c.RetryAttempts = 0
		c.BreakerThreshold = 2
		c.BreakerCooldown = time.Millisecond
	})

	for i := 0; i < 2; i++ {
		_ = conn.Execute(context.Background(), "test", func() error {
			return errors.New("boom")
		})
	}
	require.Equal(t, ConnOpen, conn.State())

	time.Sleep(5 * time.Millisecond)

	err := conn.Execute(context.Background(), "test", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, ConnHealthy, conn.State())
}

func TestConn_ExecuteAfterClose(t *testing.T) {
	conn := degradedConn(t, nil)
	require.NoError(t, conn.Close())

	err := conn.Execute(context.Background(), "test", func() error { return nil })
	assert.ErrorIs(t, err, ErrConnClosed)

	// Close is idempotent.
	assert.NoError(t, conn.Close())
}

func TestConn_RetryDelayBounds(t *testing.T) {
	conn := degradedConn(t, func(c *ConnConfig) {
		c.RetryBackoff = 100 * time.Millisecond
		c.MaxRetryBackoff = time.Second
	})

	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 20; i++ {
			d := conn.retryDelay(attempt)
			assert.Greater(t, d, time.Duration(0))
			// Cap plus 25% jitter headroom.
			assert.LessOrEqual(t, d, 1250*time.Millisecond)
		}
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(nil))
	assert.False(t, retryable(context.Canceled))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.True(t, retryable(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, retryable(errors.New("schema mismatch")))
}
