package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"

	"browserengine/engine"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string { return h.id }

// fakeEngine simulates the browser capability. Execution time comes from the
// first step's Value (parsed as a duration) so each job controls its own
// runtime; launch failures and faults are configured per engine.
type fakeEngine struct {
	mu          sync.Mutex
	launchFails int // fail this many Launch calls before succeeding
	launchCount int
	nextID      int
	terminated  map[string]int
	crashed     map[string]bool // handles reported unhealthy while idle
	executed    []string        // handle id per Execute call, in order
	running     int
	maxRunning  int
	runErr      error // returned as fault by every Execute
	cleanFault  bool  // Result.Clean when runErr fires
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		terminated: make(map[string]int),
		crashed:    make(map[string]bool),
	}
}

func (f *fakeEngine) Launch(ctx context.Context) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launchCount++
	if f.launchFails > 0 {
		f.launchFails--
		return nil, errors.New("engine launch refused")
	}
	f.nextID++
	return &fakeHandle{id: fmt.Sprintf("ctx-%d", f.nextID)}, nil
}

func (f *fakeEngine) Execute(ctx context.Context, h engine.Handle, steps []engine.Step) (engine.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, h.ID())
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	runErr := f.runErr
	clean := f.cleanFault
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	delay := 10 * time.Millisecond
	if len(steps) > 0 && steps[0].Value != "" {
		if d, err := time.ParseDuration(steps[0].Value); err == nil {
			delay = d
		}
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}

	if runErr != nil {
		return engine.Result{Clean: clean}, &engine.FaultError{Kind: steps[0].Kind, Message: runErr.Error(), Err: runErr}
	}
	return engine.Result{
		Extracted: map[string]string{"ok": "1"},
		FinalURL:  steps[0].URL,
		Clean:     true,
	}, nil
}

func (f *fakeEngine) Terminate(h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated[h.ID()]++
	return nil
}

func (f *fakeEngine) Healthy(h engine.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.crashed[h.ID()]
}

func (f *fakeEngine) markCrashed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashed[id] = true
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launchCount
}

func (f *fakeEngine) executions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeEngine) wasTerminated(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated[id] > 0
}

func (f *fakeEngine) terminations(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated[id]
}

func (f *fakeEngine) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// sleepSteps builds a job script whose fake execution takes d.
func sleepSteps(d time.Duration) []engine.Step {
	return []engine.Step{{
		Kind:  engine.StepNavigate,
		URL:   "https://example.test/",
		Value: d.String(),
	}}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
