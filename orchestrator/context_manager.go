package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logrus "github.com/sirupsen/logrus"

	"browserengine/engine"
)

// ContextManager owns the bounded set of execution contexts. It is the single
// mutator of context lifecycle state; everything else goes through Acquire,
// Release and Drain.
type ContextManager struct {
	eng           engine.Engine
	logger        *logrus.Logger
	capacity      int
	launchRetries int

	mu       sync.Mutex
	cond     *sync.Cond
	contexts map[string]*ExecContext
	creating int
	draining bool
	degraded bool
}

// NewContextManager creates a pool of at most capacity contexts. Contexts are
// launched lazily on demand, not up front.
func NewContextManager(eng engine.Engine, capacity, launchRetries int, logger *logrus.Logger) *ContextManager {
	cm := &ContextManager{
		eng:           eng,
		logger:        logger,
		capacity:      capacity,
		launchRetries: launchRetries,
		contexts:      make(map[string]*ExecContext),
	}
	cm.cond = sync.NewCond(&cm.mu)
	return cm
}

// Acquire returns a ready context marked busy. If none is ready and capacity
// allows, a new one is launched; if capacity is exhausted the caller suspends
// until a context is released or ctx expires.
func (cm *ContextManager) Acquire(ctx context.Context) (*ExecContext, error) {
	stop := context.AfterFunc(ctx, func() {
		cm.mu.Lock()
		cm.cond.Broadcast()
		cm.mu.Unlock()
	})
	defer stop()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for {
		if cm.draining {
			return nil, ErrShuttingDown
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, ec := range cm.contexts {
			if ec.state == StateReady {
				ec.state = StateBusy
				return ec, nil
			}
		}

		if cm.degraded {
			return nil, ErrPoolDegraded
		}

		if len(cm.contexts)+cm.creating < cm.capacity {
			cm.creating++
			cm.mu.Unlock()
			ec, err := cm.launch(ctx)
			cm.mu.Lock()
			cm.creating--
			cm.cond.Broadcast()
			if err != nil {
				return nil, err
			}
			ec.state = StateBusy
			cm.contexts[ec.ID] = ec
			return ec, nil
		}

		cm.cond.Wait()
	}
}

// launch starts a fresh context with a small number of immediate retries.
// Persistent launch failure is surfaced to the caller instead of retried
// forever, so a broken engine cannot turn into a retry storm.
func (cm *ContextManager) launch(ctx context.Context) (*ExecContext, error) {
	var lastErr error
	for attempt := 0; attempt <= cm.launchRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		handle, err := cm.eng.Launch(ctx)
		if err == nil {
			ec := &ExecContext{
				ID:        uuid.NewString(),
				handle:    handle,
				eng:       cm.eng,
				state:     StateCold,
				createdAt: time.Now(),
			}
			cm.logger.WithField("context", ec.ID).Debug("Launched new execution context")
			return ec, nil
		}
		lastErr = err
		cm.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err,
		}).Warn("Context launch failed")
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrContextCreationFailed, cm.launchRetries+1, lastErr)
}

// Release hands a context back. Healthy contexts become ready for reuse;
// unhealthy ones are destroyed asynchronously and replaced lazily on the next
// Acquire.
func (cm *ContextManager) Release(ec *ExecContext, healthy bool) {
	cm.mu.Lock()
	ec.jobsServed++
	if healthy {
		ec.state = StateReady
	} else {
		ec.state = StateUnhealthy
		go cm.destroy(ec)
	}
	cm.cond.Broadcast()
	cm.mu.Unlock()
}

// MarkUnhealthy flags a context for disposal outside the release path, e.g.
// when a crash is observed while the context sits idle.
func (cm *ContextManager) MarkUnhealthy(ec *ExecContext, err error) {
	cm.mu.Lock()
	if ec.state == StateClosed {
		cm.mu.Unlock()
		return
	}
	ec.state = StateUnhealthy
	ec.lastErr = err
	go cm.destroy(ec)
	cm.mu.Unlock()
}

func (cm *ContextManager) destroy(ec *ExecContext) {
	// An unhealthy release and a sweep tick can both collect the same
	// context; only the first caller terminates it.
	cm.mu.Lock()
	if ec.closing {
		cm.mu.Unlock()
		return
	}
	ec.closing = true
	cm.mu.Unlock()

	if err := cm.eng.Terminate(ec.handle); err != nil {
		cm.logger.WithFields(logrus.Fields{
			"context": ec.ID,
			"error":   err,
		}).Warn("Failed to terminate context")
	}

	cm.mu.Lock()
	ec.state = StateClosed
	delete(cm.contexts, ec.ID)
	age, jobs := ec.Age(), ec.jobsServed
	cm.cond.Broadcast()
	cm.mu.Unlock()
	cm.logger.WithFields(logrus.Fields{
		"context": ec.ID,
		"age":     age.Round(time.Millisecond),
		"jobs":    jobs,
	}).Debug("Destroyed execution context")
}

var errCrashedIdle = errors.New("context crashed while idle")

// CheckIdle probes idle contexts when the engine can report handle health.
// A context that crashed between jobs is retired here instead of faulting
// the next job that acquires it.
func (cm *ContextManager) CheckIdle() {
	checker, ok := cm.eng.(engine.HealthChecker)
	if !ok {
		return
	}

	cm.mu.Lock()
	var crashed []*ExecContext
	for _, ec := range cm.contexts {
		if ec.state == StateReady && !checker.Healthy(ec.handle) {
			crashed = append(crashed, ec)
		}
	}
	cm.mu.Unlock()

	for _, ec := range crashed {
		cm.logger.WithField("context", ec.ID).Warn("Idle context crashed")
		cm.MarkUnhealthy(ec, errCrashedIdle)
	}
}

// Sweep destroys any context still marked unhealthy. Normally disposal
// happens on release; the sweep catches contexts flagged outside that path.
func (cm *ContextManager) Sweep() int {
	cm.mu.Lock()
	var stale []*ExecContext
	for _, ec := range cm.contexts {
		if ec.state == StateUnhealthy {
			stale = append(stale, ec)
		}
	}
	cm.mu.Unlock()

	for _, ec := range stale {
		cm.destroy(ec)
	}
	return len(stale)
}

// SetDegraded clamps the pool while the circuit breaker is open. Acquire
// fails fast instead of launching replacements into a broken engine.
func (cm *ContextManager) SetDegraded(degraded bool) {
	cm.mu.Lock()
	cm.degraded = degraded
	cm.cond.Broadcast()
	cm.mu.Unlock()
}

// Drain stops admissions, waits for busy contexts to come back (bounded by
// ctx), then destroys everything.
func (cm *ContextManager) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		cm.mu.Lock()
		cm.cond.Broadcast()
		cm.mu.Unlock()
	})
	defer stop()

	cm.mu.Lock()
	cm.draining = true
	cm.cond.Broadcast()

	for cm.busyLocked() > 0 && ctx.Err() == nil {
		cm.cond.Wait()
	}

	remaining := make([]*ExecContext, 0, len(cm.contexts))
	for _, ec := range cm.contexts {
		remaining = append(remaining, ec)
	}
	cm.mu.Unlock()

	for _, ec := range remaining {
		cm.destroy(ec)
	}
	return ctx.Err()
}

func (cm *ContextManager) busyLocked() int {
	n := 0
	for _, ec := range cm.contexts {
		if ec.state == StateBusy {
			n++
		}
	}
	return n
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Capacity  int `json:"capacity"`
	Ready     int `json:"ready"`
	Busy      int `json:"busy"`
	Unhealthy int `json:"unhealthy"`
}

// Stats returns a snapshot of the pool's occupancy.
func (cm *ContextManager) Stats() PoolStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	s := PoolStats{Capacity: cm.capacity}
	for _, ec := range cm.contexts {
		switch ec.state {
		case StateReady:
			s.Ready++
		case StateBusy:
			s.Busy++
		case StateUnhealthy:
			s.Unhealthy++
		}
	}
	return s
}
