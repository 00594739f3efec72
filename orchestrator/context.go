package orchestrator

import (
	"context"
	"time"

	"browserengine/engine"
)

// ExecContext wraps one launched browser context. Lifecycle state is owned
// exclusively by the ContextManager; the scheduler only borrows a context for
// the duration of a single job.
type ExecContext struct {
	ID         string
	handle     engine.Handle
	eng        engine.Engine
	state      ContextState
	closing    bool
	createdAt  time.Time
	jobsServed int
	lastErr    error
}

// Run executes the step list inside this context, bounded by ctx. Faults are
// always reported back, never retried here: retrying against a possibly
// corrupted context is a caller decision.
func (ec *ExecContext) Run(ctx context.Context, steps []engine.Step) (engine.Result, error) {
	return ec.eng.Execute(ctx, ec.handle, steps)
}

// State returns the lifecycle state as last set by the pool. Only meaningful
// while the caller holds the context on loan or under the pool's lock.
func (ec *ExecContext) State() ContextState { return ec.state }

// JobsServed returns how many jobs this context has completed.
func (ec *ExecContext) JobsServed() int { return ec.jobsServed }

// Age returns how long this context has been alive.
func (ec *ExecContext) Age() time.Duration { return time.Since(ec.createdAt) }
