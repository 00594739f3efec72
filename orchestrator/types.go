package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"browserengine/engine"
)

// ContextState represents the current lifecycle state of an execution context.
type ContextState string

const (
	StateCold      ContextState = "cold"
	StateReady     ContextState = "ready"
	StateBusy      ContextState = "busy"
	StateUnhealthy ContextState = "unhealthy"
	StateClosed    ContextState = "closed"
)

// JobState represents the lifecycle state of a job. Exactly one terminal
// state (Succeeded, Failed, TimedOut, Cancelled) is ever reached.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobAssigned  JobState = "assigned"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether s is a terminal job state.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobTimedOut, JobCancelled:
		return true
	}
	return false
}

var (
	// ErrCapacityExceeded is returned by Submit when the queue is full.
	ErrCapacityExceeded = errors.New("job queue full")
	// ErrContextCreationFailed is surfaced after bounded launch retries fail.
	ErrContextCreationFailed = errors.New("context creation failed")
	// ErrPoolDegraded is returned while the circuit breaker is open.
	ErrPoolDegraded = errors.New("pool degraded, circuit breaker open")
	// ErrShuttingDown is returned once draining has started.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// JobSpec describes a unit of automation work to submit.
type JobSpec struct {
	Steps   []engine.Step
	Timeout time.Duration
}

// Outcome is the single terminal result of a job.
type Outcome struct {
	JobID    string
	State    JobState
	Result   engine.Result
	Err      error
	Duration time.Duration
}

// Job is one submitted unit of work tracked through its lifecycle.
type Job struct {
	ID          string
	Steps       []engine.Step
	Timeout     time.Duration
	SubmittedAt time.Time

	mu      sync.Mutex
	state   JobState
	cancel  context.CancelFunc
	outcome Outcome
	done    chan struct{}
}

// State returns the job's current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// setState moves the job to a non-terminal state. It is a no-op once the job
// is terminal, so a late transition can never resurrect a finished job.
func (j *Job) setState(s JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = s
}

// finish records the terminal outcome. The first caller wins; any later
// attempt is dropped, which keeps the one-terminal-state invariant.
func (j *Job) finish(state JobState, result engine.Result, err error) bool {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.state = state
	j.outcome = Outcome{
		JobID:    j.ID,
		State:    state,
		Result:   result,
		Err:      err,
		Duration: time.Since(j.SubmittedAt),
	}
	j.mu.Unlock()
	close(j.done)
	return true
}

// Handle lets a caller wait on, inspect, or cancel a submitted job.
type Handle struct {
	job *Job
}

// Done is closed once the job reaches its terminal state.
func (h *Handle) Done() <-chan struct{} { return h.job.done }

// Outcome returns the terminal outcome. Valid only after Done is closed;
// before that it returns a zero Outcome with the current state.
func (h *Handle) Outcome() Outcome {
	h.job.mu.Lock()
	defer h.job.mu.Unlock()
	if h.job.state.Terminal() {
		return h.job.outcome
	}
	return Outcome{JobID: h.job.ID, State: h.job.state}
}

// Wait blocks until the job finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.job.done:
		return h.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// JobID returns the job's identity.
func (h *Handle) JobID() string { return h.job.ID }

// State returns the job's current state.
func (h *Handle) State() JobState { return h.job.State() }

// Cancel requests cancellation. A queued job is resolved immediately without
// ever touching a context; a running job has its deadline cut to now and the
// context it holds is discarded. Returns false if the job already finished.
func (h *Handle) Cancel() bool {
	j := h.job

	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}
	if j.state == JobQueued {
		// resolved in place; the dispatch loop will skip it
		j.state = JobCancelled
		j.outcome = Outcome{
			JobID:    j.ID,
			State:    JobCancelled,
			Err:      context.Canceled,
			Duration: time.Since(j.SubmittedAt),
		}
		j.mu.Unlock()
		close(j.done)
		return true
	}
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}
