package service

import (
	"context"
	"errors"
	"time"

	"browserengine/internal"
	"browserengine/model"
	"browserengine/orchestrator"
)

// ErrJobNotFound is returned when a job id is unknown or already delivered.
var ErrJobNotFound = errors.New("job not found")

// AutomationService validates incoming job scripts and maps orchestrator
// outcomes to the wire-level response types shared by the HTTP and NATS
// transports.
type AutomationService struct {
	Scheduler     *orchestrator.Scheduler
	maxSteps      int
	allowEvaluate bool
}

func NewAutomationService(sched *orchestrator.Scheduler, maxSteps int, allowEvaluate bool) *AutomationService {
	return &AutomationService{
		Scheduler:     sched,
		maxSteps:      maxSteps,
		allowEvaluate: allowEvaluate,
	}
}

// Run submits a job and blocks until it resolves, for one-shot callers.
func (s *AutomationService) Run(ctx context.Context, req model.SubmitRequest) (*model.JobResponse, error) {
	h, err := s.submit(req)
	if err != nil {
		return nil, err
	}
	defer s.Scheduler.Forget(h.JobID())

	outcome, err := h.Wait(ctx)
	if err != nil {
		// caller gave up; the job still resolves internally
		h.Cancel()
		return nil, err
	}
	return outcomeResponse(outcome), nil
}

// Submit enqueues a job and returns immediately with its id.
func (s *AutomationService) Submit(req model.SubmitRequest) (*model.SubmitResponse, error) {
	h, err := s.submit(req)
	if err != nil {
		return nil, err
	}
	return &model.SubmitResponse{
		JobID:  h.JobID(),
		Status: string(h.State()),
	}, nil
}

func (s *AutomationService) submit(req model.SubmitRequest) (*orchestrator.Handle, error) {
	if err := internal.ValidateSteps(req.Steps, s.maxSteps, s.allowEvaluate); err != nil {
		return nil, err
	}
	return s.Scheduler.Submit(orchestrator.JobSpec{
		Steps:   req.Steps,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})
}

// Status reports a job's progress. Terminal jobs are forgotten once their
// outcome has been delivered.
func (s *AutomationService) Status(id string) (*model.JobResponse, error) {
	h, ok := s.Scheduler.Lookup(id)
	if !ok {
		return nil, ErrJobNotFound
	}

	outcome := h.Outcome()
	if outcome.State.Terminal() {
		s.Scheduler.Forget(id)
		return outcomeResponse(outcome), nil
	}
	return &model.JobResponse{
		JobID:         id,
		Status:        string(outcome.State),
		StatusMessage: "In Progress",
	}, nil
}

// Cancel requests cancellation of a queued or running job.
func (s *AutomationService) Cancel(id string) error {
	h, ok := s.Scheduler.Lookup(id)
	if !ok {
		return ErrJobNotFound
	}
	h.Cancel()
	return nil
}

// Health reports orchestrator load and breaker state.
func (s *AutomationService) Health() model.HealthResponse {
	stats := s.Scheduler.Stats()
	status := "ok"
	if stats.Degraded {
		status = "degraded"
	}
	return model.HealthResponse{
		Status:    status,
		Capacity:  stats.Pool.Capacity,
		Ready:     stats.Pool.Ready,
		Busy:      stats.Pool.Busy,
		Unhealthy: stats.Pool.Unhealthy,
		Queued:    stats.Queued,
	}
}

func outcomeResponse(o orchestrator.Outcome) *model.JobResponse {
	resp := &model.JobResponse{
		JobID:         o.JobID,
		Status:        string(o.State),
		Result:        o.Result.Extracted,
		FinalURL:      o.Result.FinalURL,
		ExecutionTime: o.Duration.String(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}

	switch o.State {
	case orchestrator.JobSucceeded:
		resp.StatusMessage = "Success"
	case orchestrator.JobTimedOut:
		resp.StatusMessage = "Deadline Exceeded"
	case orchestrator.JobCancelled:
		resp.StatusMessage = "Cancelled"
	default:
		resp.StatusMessage = "Automation Fault"
	}
	return resp
}
