package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchTeardownFiresOnDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{})
	var g teardownGuard
	stop := watchTeardown(ctx, &g, func() { close(fired) })
	defer stop()

	cancel()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("teardown never fired after cancellation")
	}
	assert.False(t, g.claim(), "a torn-down run must not claim a clean finish")
}

func TestWatchTeardownNeverFiresAfterRunFinishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var fired atomic.Bool
	var g teardownGuard
	stop := watchTeardown(ctx, &g, func() { fired.Store(true) })

	require.True(t, g.claim())
	stop()
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load(), "a finished run's context must never be torn down")
}

func TestWatchTeardownLosesToConcurrentFinish(t *testing.T) {
	// ctx is already expired and the run finishes before the watcher gets
	// scheduled; the finisher's claim must win.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var fired atomic.Bool
	var g teardownGuard
	require.True(t, g.claim())
	stop := watchTeardown(ctx, &g, func() { fired.Store(true) })

	time.Sleep(50 * time.Millisecond)
	stop()
	assert.False(t, fired.Load())
}
