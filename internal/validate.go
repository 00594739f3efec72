package internal

import (
	"fmt"
	"net/url"
	"strings"

	"browserengine/engine"
)

const (
	maxSelectorLength = 512
	maxValueLength    = 4096
)

// ValidationError describes a rejected job script.
type ValidationError struct {
	Message string
	Details string
}

func (e *ValidationError) Error() string {
	return e.Message + ": " + e.Details
}

// ValidateSteps checks a job's step script before it is admitted. Scripts
// that could escape the browser sandbox or hammer arbitrary targets are
// rejected here, not deep inside the engine.
func ValidateSteps(steps []engine.Step, maxSteps int, allowEvaluate bool) error {
	if len(steps) == 0 {
		return &ValidationError{
			Message: "Empty step script",
			Details: "A job must contain at least one step",
		}
	}
	if len(steps) > maxSteps {
		return &ValidationError{
			Message: "Step script too long",
			Details: fmt.Sprintf("Max steps allowed is %d", maxSteps),
		}
	}

	for i, step := range steps {
		if err := validateStep(i, step, allowEvaluate); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step engine.Step, allowEvaluate bool) error {
	if len(step.Selector) > maxSelectorLength {
		return &ValidationError{
			Message: "Selector too long",
			Details: fmt.Sprintf("Step %d exceeds %d characters", i, maxSelectorLength),
		}
	}
	if len(step.Value) > maxValueLength {
		return &ValidationError{
			Message: "Value too long",
			Details: fmt.Sprintf("Step %d exceeds %d characters", i, maxValueLength),
		}
	}

	switch step.Kind {
	case engine.StepNavigate:
		return validateURL(i, step.URL)

	case engine.StepWaitFor, engine.StepClick:
		if step.Selector == "" {
			return &ValidationError{
				Message: "Missing selector",
				Details: fmt.Sprintf("Step %d (%s) requires a selector", i, step.Kind),
			}
		}

	case engine.StepFill:
		if step.Selector == "" {
			return &ValidationError{
				Message: "Missing selector",
				Details: fmt.Sprintf("Step %d (fill) requires a selector", i),
			}
		}

	case engine.StepExtractText:
		if step.Selector == "" || step.Name == "" {
			return &ValidationError{
				Message: "Incomplete extraction step",
				Details: fmt.Sprintf("Step %d requires a selector and a name", i),
			}
		}

	case engine.StepExtractAttribute:
		if step.Selector == "" || step.Name == "" || step.Attribute == "" {
			return &ValidationError{
				Message: "Incomplete extraction step",
				Details: fmt.Sprintf("Step %d requires a selector, attribute and name", i),
			}
		}

	case engine.StepEvaluate:
		if !allowEvaluate {
			return &ValidationError{
				Message: "Prohibited step kind",
				Details: "Arbitrary script evaluation is disabled",
			}
		}
		if step.Name == "" {
			return &ValidationError{
				Message: "Incomplete evaluate step",
				Details: fmt.Sprintf("Step %d requires a name", i),
			}
		}

	default:
		return &ValidationError{
			Message: "Unknown step kind",
			Details: fmt.Sprintf("Step %d has unsupported kind %q", i, step.Kind),
		}
	}
	return nil
}

func validateURL(i int, raw string) error {
	if raw == "" {
		return &ValidationError{
			Message: "Missing URL",
			Details: fmt.Sprintf("Step %d (navigate) requires a url", i),
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{
			Message: "Invalid URL",
			Details: fmt.Sprintf("Step %d: %v", i, err),
		}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return &ValidationError{
			Message: "Prohibited URL scheme",
			Details: fmt.Sprintf("Step %d: scheme %q is not allowed", i, u.Scheme),
		}
	}
	if u.Host == "" {
		return &ValidationError{
			Message: "Invalid URL",
			Details: fmt.Sprintf("Step %d: missing host", i),
		}
	}
	return nil
}
