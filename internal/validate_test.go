package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"browserengine/engine"
)

func TestValidateSteps(t *testing.T) {
	nav := engine.Step{Kind: engine.StepNavigate, URL: "https://example.com/list"}

	tests := []struct {
		name          string
		steps         []engine.Step
		allowEvaluate bool
		wantErr       string
	}{
		{
			name:    "empty script",
			steps:   nil,
			wantErr: "Empty step script",
		},
		{
			name: "valid scrape script",
			steps: []engine.Step{
				nav,
				{Kind: engine.StepWaitFor, Selector: "table.results tbody tr"},
				{Kind: engine.StepClick, Selector: "button.cookie-accept", Optional: true},
				{Kind: engine.StepExtractText, Selector: "td.address", Name: "address"},
				{Kind: engine.StepExtractAttribute, Selector: "td a", Attribute: "href", Name: "details_url"},
			},
		},
		{
			name:    "navigate without url",
			steps:   []engine.Step{{Kind: engine.StepNavigate}},
			wantErr: "Missing URL",
		},
		{
			name:    "file scheme rejected",
			steps:   []engine.Step{{Kind: engine.StepNavigate, URL: "file:///etc/passwd"}},
			wantErr: "Prohibited URL scheme",
		},
		{
			name:    "javascript scheme rejected",
			steps:   []engine.Step{{Kind: engine.StepNavigate, URL: "javascript:alert(1)"}},
			wantErr: "Prohibited URL scheme",
		},
		{
			name:    "click without selector",
			steps:   []engine.Step{nav, {Kind: engine.StepClick}},
			wantErr: "Missing selector",
		},
		{
			name:    "extract without name",
			steps:   []engine.Step{nav, {Kind: engine.StepExtractText, Selector: "h1"}},
			wantErr: "Incomplete extraction step",
		},
		{
			name:    "evaluate blocked by default",
			steps:   []engine.Step{nav, {Kind: engine.StepEvaluate, Value: "1+1", Name: "sum"}},
			wantErr: "Prohibited step kind",
		},
		{
			name:          "evaluate allowed when enabled",
			steps:         []engine.Step{nav, {Kind: engine.StepEvaluate, Value: "1+1", Name: "sum"}},
			allowEvaluate: true,
		},
		{
			name:    "unknown kind",
			steps:   []engine.Step{{Kind: "teleport"}},
			wantErr: "Unknown step kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSteps(tt.steps, 50, tt.allowEvaluate)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateStepsLengthCeiling(t *testing.T) {
	steps := make([]engine.Step, 5)
	for i := range steps {
		steps[i] = engine.Step{Kind: engine.StepNavigate, URL: "https://example.com"}
	}
	assert.NoError(t, ValidateSteps(steps, 5, false))
	assert.ErrorContains(t, ValidateSteps(steps, 4, false), "Step script too long")
}
