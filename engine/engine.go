package engine

import (
	"context"
	"errors"
	"fmt"
)

// StepKind identifies an automation step type.
type StepKind string

const (
	StepNavigate         StepKind = "navigate"
	StepWaitFor          StepKind = "wait_for"
	StepClick            StepKind = "click"
	StepFill             StepKind = "fill"
	StepExtractText      StepKind = "extract_text"
	StepExtractAttribute StepKind = "extract_attribute"
	StepEvaluate         StepKind = "evaluate"
)

// Step is a single declarative automation instruction. A job carries an
// ordered list of steps which are executed against one browser context.
type Step struct {
	Kind      StepKind `json:"kind" binding:"required"`
	URL       string   `json:"url,omitempty"`
	Selector  string   `json:"selector,omitempty"`
	Attribute string   `json:"attribute,omitempty"`
	Value     string   `json:"value,omitempty"`
	Name      string   `json:"name,omitempty"`
	// Optional steps swallow their own failure (cookie banners, consent
	// dialogs) instead of faulting the whole job.
	Optional  bool    `json:"optional,omitempty"`
	TimeoutMS float64 `json:"timeout_ms,omitempty"`
}

// Result is the outcome of running a step list inside a context.
type Result struct {
	Extracted map[string]string `json:"extracted,omitempty"`
	FinalURL  string            `json:"final_url,omitempty"`
	// Clean reports whether the engine confirmed the context is still in a
	// usable state after the run. A fault with Clean=true lets the context
	// be reused; Clean=false forces disposal.
	Clean bool `json:"-"`
}

// FaultError is an automation-level failure (navigation error, missing
// selector, script error) as opposed to an infrastructure failure.
type FaultError struct {
	Step    int
	Kind    StepKind
	Message string
	Err     error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("step %d (%s): %s", e.Step, e.Kind, e.Message)
}

func (e *FaultError) Unwrap() error { return e.Err }

// IsFault reports whether err is an automation fault.
func IsFault(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe)
}

// Handle is an opaque reference to one launched browser context.
type Handle interface {
	ID() string
}

// HealthChecker is optionally implemented by engines that can tell whether
// an idle handle is still usable, letting the pool retire a context that
// crashed between jobs instead of handing it to the next one.
type HealthChecker interface {
	Healthy(h Handle) bool
}

// Engine is the browser launch capability the orchestrator runs against.
// Launch creates an isolated context, Execute runs steps in it bounded by
// ctx, Terminate tears it down. Implementations must keep contexts fully
// isolated from each other (cookies, storage, in-flight navigations).
type Engine interface {
	Launch(ctx context.Context) (Handle, error)
	Execute(ctx context.Context, h Handle, steps []Step) (Result, error)
	Terminate(h Handle) error
	Close() error
}
