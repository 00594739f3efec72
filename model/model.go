package model

import "browserengine/engine"

// SubmitRequest is the payload for job submission.
type SubmitRequest struct {
	Steps     []engine.Step `json:"steps" binding:"required"`
	TimeoutMS int           `json:"timeout_ms,omitempty"`
}

// SubmitResponse acknowledges an accepted asynchronous job.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse reports a job's state and, once terminal, its outcome.
type JobResponse struct {
	JobID         string            `json:"job_id"`
	Status        string            `json:"status"`
	Result        map[string]string `json:"result,omitempty"`
	FinalURL      string            `json:"final_url,omitempty"`
	Error         string            `json:"error,omitempty"`
	StatusMessage string            `json:"status_message"`
	ExecutionTime string            `json:"execution_time,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error         string `json:"error"`
	StatusMessage string `json:"status_message"`
}

// HealthResponse reports orchestrator load and breaker state.
type HealthResponse struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Capacity  int    `json:"capacity"`
	Ready     int    `json:"ready"`
	Busy      int    `json:"busy"`
	Unhealthy int    `json:"unhealthy"`
	Queued    int    `json:"queued"`
}
