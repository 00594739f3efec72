package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	eng := newFakeEngine()
	pool := NewContextManager(eng, 1, 2, quietLogger())
	hm := NewHealthMonitor(pool, 10*time.Millisecond, 3, time.Minute, quietLogger())

	hm.RecordFailure()
	hm.RecordFailure()
	assert.False(t, hm.Degraded())

	hm.RecordFailure()
	assert.True(t, hm.Degraded())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	eng := newFakeEngine()
	pool := NewContextManager(eng, 1, 2, quietLogger())
	hm := NewHealthMonitor(pool, 10*time.Millisecond, 3, time.Minute, quietLogger())

	hm.RecordFailure()
	hm.RecordFailure()
	hm.RecordSuccess()
	hm.RecordFailure()
	hm.RecordFailure()
	assert.False(t, hm.Degraded(), "interleaved success must reset the streak")
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	eng := newFakeEngine()
	pool := NewContextManager(eng, 1, 2, quietLogger())
	hm := NewHealthMonitor(pool, 10*time.Millisecond, 2, 50*time.Millisecond, quietLogger())

	hm.RecordFailure()
	hm.RecordFailure()
	assert.True(t, hm.Degraded())

	time.Sleep(70 * time.Millisecond)
	assert.False(t, hm.Degraded())

	// the pool is usable again
	_, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
}

func TestMonitorRetiresCrashedIdleContext(t *testing.T) {
	eng := newFakeEngine()
	pool := NewContextManager(eng, 2, 2, quietLogger())
	hm := NewHealthMonitor(pool, 10*time.Millisecond, 3, time.Minute, quietLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go hm.Run(&wg)
	defer wg.Wait()
	defer hm.Stop()

	ec, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	pool.Release(ec, true)

	eng.markCrashed("ctx-1")
	assert.Eventually(t, func() bool {
		return eng.wasTerminated("ctx-1")
	}, time.Second, 5*time.Millisecond)
}

func TestMarkUnhealthyDestroysIdleContext(t *testing.T) {
	eng := newFakeEngine()
	pool := NewContextManager(eng, 2, 2, quietLogger())

	ec, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	pool.Release(ec, true)

	pool.MarkUnhealthy(ec, assert.AnError)
	assert.Eventually(t, func() bool {
		return eng.wasTerminated("ctx-1")
	}, time.Second, 5*time.Millisecond)

	stats := pool.Stats()
	assert.Zero(t, stats.Ready)
	assert.Zero(t, stats.Unhealthy)
}
