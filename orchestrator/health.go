package orchestrator

import (
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// HealthMonitor watches context failures. It sweeps unhealthy contexts out of
// the pool periodically and trips a circuit breaker when the engine fails
// repeatedly, so a systemically broken automation target degrades the service
// visibly instead of thrashing the pool.
type HealthMonitor struct {
	pool      *ContextManager
	logger    *logrus.Logger
	interval  time.Duration
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	consecutive int
	open        bool
	openUntil   time.Time

	stopCh chan struct{}
}

// NewHealthMonitor creates a monitor. threshold consecutive failures open the
// breaker for cooldown; a single success resets the count.
func NewHealthMonitor(pool *ContextManager, interval time.Duration, threshold int, cooldown time.Duration, logger *logrus.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:      pool,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		cooldown:  cooldown,
		stopCh:    make(chan struct{}),
	}
}

// Run executes the periodic health loop until Stop is called.
func (hm *HealthMonitor) Run(wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hm.pool.CheckIdle()
			if n := hm.pool.Sweep(); n > 0 {
				hm.logger.WithField("count", n).Info("Swept unhealthy contexts")
			}
			hm.mu.Lock()
			hm.maybeCloseLocked(time.Now())
			hm.mu.Unlock()
		case <-hm.stopCh:
			return
		}
	}
}

// Stop terminates the health loop.
func (hm *HealthMonitor) Stop() {
	close(hm.stopCh)
}

// RecordFailure counts a context failure (launch failure or unhealthy
// release). Crossing the threshold opens the breaker and clamps the pool.
func (hm *HealthMonitor) RecordFailure() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.consecutive++
	if hm.open || hm.consecutive < hm.threshold {
		return
	}
	hm.open = true
	hm.openUntil = time.Now().Add(hm.cooldown)
	hm.pool.SetDegraded(true)
	hm.logger.WithFields(logrus.Fields{
		"failures": hm.consecutive,
		"cooldown": hm.cooldown,
	}).Warn("Circuit breaker opened, pool degraded")
}

// RecordSuccess resets the consecutive-failure count.
func (hm *HealthMonitor) RecordSuccess() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if !hm.open {
		hm.consecutive = 0
	}
}

// Degraded reports whether the breaker is currently open. An expired cooldown
// closes the breaker on the spot rather than waiting for the next tick.
func (hm *HealthMonitor) Degraded() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.maybeCloseLocked(time.Now())
	return hm.open
}

func (hm *HealthMonitor) maybeCloseLocked(now time.Time) {
	if hm.open && now.After(hm.openUntil) {
		hm.open = false
		hm.consecutive = 0
		hm.pool.SetDegraded(false)
		hm.logger.Info("Circuit breaker closed, pool restored")
	}
}
