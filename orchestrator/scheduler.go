package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logrus "github.com/sirupsen/logrus"

	"browserengine/engine"
)

// Config holds the scheduler's tunable parameters.
type Config struct {
	Capacity         int           // max concurrent execution contexts
	QueueDepth       int           // max queued jobs before Submit fails fast
	DefaultTimeout   time.Duration // applied when a job carries no timeout
	LaunchRetries    int           // immediate retries on context launch failure
	HealthInterval   time.Duration // health monitor sweep interval
	FailureThreshold int           // consecutive failures before the breaker opens
	BreakerCooldown  time.Duration // how long the breaker stays open
}

// Scheduler accepts jobs, queues them under a depth ceiling, and dispatches
// them onto pooled execution contexts with one dispatch worker per capacity
// slot. Every submitted job reaches exactly one terminal outcome.
type Scheduler struct {
	cfg     Config
	jobs    chan *Job
	pool    *ContextManager
	monitor *HealthMonitor
	logger  *logrus.Logger

	submitMu sync.RWMutex // serializes Submit sends against queue close
	draining atomic.Bool

	regMu    sync.Mutex
	registry map[string]*Handle

	workerWg  sync.WaitGroup
	monitorWg sync.WaitGroup
}

// NewScheduler builds the orchestrator stack (pool, health monitor, dispatch
// workers) and starts it.
func NewScheduler(eng engine.Engine, cfg Config, logger *logrus.Logger) *Scheduler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Capacity * 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	pool := NewContextManager(eng, cfg.Capacity, cfg.LaunchRetries, logger)
	s := &Scheduler{
		cfg:      cfg,
		jobs:     make(chan *Job, cfg.QueueDepth),
		pool:     pool,
		monitor:  NewHealthMonitor(pool, cfg.HealthInterval, cfg.FailureThreshold, cfg.BreakerCooldown, logger),
		logger:   logger,
		registry: make(map[string]*Handle),
	}

	s.monitorWg.Add(1)
	go s.monitor.Run(&s.monitorWg)

	for i := 0; i < cfg.Capacity; i++ {
		s.workerWg.Add(1)
		go s.worker(i + 1)
	}
	return s
}

// Submit enqueues a job and returns a handle that resolves to its outcome.
// It never blocks: a full queue fails fast with ErrCapacityExceeded, an open
// circuit breaker with ErrPoolDegraded.
func (s *Scheduler) Submit(spec JobSpec) (*Handle, error) {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()

	if s.draining.Load() {
		return nil, ErrShuttingDown
	}
	if s.monitor.Degraded() {
		return nil, ErrPoolDegraded
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	job := &Job{
		ID:          uuid.NewString(),
		Steps:       spec.Steps,
		Timeout:     timeout,
		SubmittedAt: time.Now(),
		state:       JobQueued,
		done:        make(chan struct{}),
	}
	h := &Handle{job: job}

	select {
	case s.jobs <- job:
		s.register(h)
		s.logger.WithFields(logrus.Fields{
			"job":     job.ID,
			"steps":   len(job.Steps),
			"timeout": timeout,
		}).Info("Job queued")
		return h, nil
	default:
		return nil, fmt.Errorf("%w, max depth: %d", ErrCapacityExceeded, s.cfg.QueueDepth)
	}
}

// Lookup returns the handle for a previously submitted job.
func (s *Scheduler) Lookup(id string) (*Handle, bool) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	h, ok := s.registry[id]
	return h, ok
}

// Forget drops a job from the registry once its outcome has been delivered.
func (s *Scheduler) Forget(id string) {
	s.regMu.Lock()
	delete(s.registry, id)
	s.regMu.Unlock()
}

func (s *Scheduler) register(h *Handle) {
	s.regMu.Lock()
	s.registry[h.JobID()] = h
	s.regMu.Unlock()
}

// worker pulls jobs off the queue in submission order and runs them.
func (s *Scheduler) worker(id int) {
	defer s.workerWg.Done()
	s.logger.WithField("worker", id).Debug("Dispatch worker started")

	for job := range s.jobs {
		if s.draining.Load() {
			job.finish(JobCancelled, engine.Result{}, ErrShuttingDown)
			continue
		}
		if job.State() != JobQueued {
			// cancelled while still queued; resolved without a context
			continue
		}
		s.dispatch(id, job)
	}
	s.logger.WithField("worker", id).Debug("Dispatch worker stopped")
}

// dispatch runs one job end to end: acquire a context, execute under the
// job's deadline, classify the outcome, release the context.
func (s *Scheduler) dispatch(workerID int, job *Job) {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()

	job.mu.Lock()
	if job.state.Terminal() {
		job.mu.Unlock()
		return
	}
	job.state = JobAssigned
	job.cancel = cancel
	job.mu.Unlock()

	ctx, timeoutCancel := context.WithTimeout(base, job.Timeout)
	defer timeoutCancel()

	ec, err := s.pool.Acquire(ctx)
	if err != nil {
		s.finishWithoutContext(job, ctx, err)
		return
	}

	job.setState(JobRunning)
	s.logger.WithFields(logrus.Fields{
		"worker":  workerID,
		"job":     job.ID,
		"context": ec.ID,
	}).Info("Job running")

	start := time.Now()
	res, runErr := ec.Run(ctx, job.Steps)
	elapsed := time.Since(start)

	switch {
	case runErr == nil:
		job.finish(JobSucceeded, res, nil)
		s.pool.Release(ec, true)
		s.monitor.RecordSuccess()
		s.logger.WithFields(logrus.Fields{
			"worker":   workerID,
			"job":      job.ID,
			"duration": elapsed,
		}).Info("Job succeeded")

	case errors.Is(runErr, context.DeadlineExceeded):
		// A timed-out run leaves the context in an unknown state. It is
		// never returned to the pool; a replacement is launched on demand.
		job.finish(JobTimedOut, res, fmt.Errorf("deadline exceeded after %v", job.Timeout))
		s.pool.Release(ec, false)
		s.monitor.RecordFailure()
		s.logger.WithFields(logrus.Fields{
			"worker":   workerID,
			"job":      job.ID,
			"context":  ec.ID,
			"duration": elapsed,
		}).Warn("Job timed out, disposing context")

	case errors.Is(runErr, context.Canceled):
		// The in-flight step was interrupted, so the context is suspect.
		job.finish(JobCancelled, res, context.Canceled)
		s.pool.Release(ec, false)
		s.logger.WithFields(logrus.Fields{
			"worker": workerID,
			"job":    job.ID,
		}).Info("Job cancelled mid-run, disposing context")

	case engine.IsFault(runErr):
		job.finish(JobFailed, res, runErr)
		s.pool.Release(ec, res.Clean)
		if !res.Clean {
			s.monitor.RecordFailure()
		}
		s.logger.WithFields(logrus.Fields{
			"worker": workerID,
			"job":    job.ID,
			"clean":  res.Clean,
			"error":  runErr,
		}).Warn("Job failed with automation fault")

	default:
		job.finish(JobFailed, res, runErr)
		s.pool.Release(ec, false)
		s.monitor.RecordFailure()
		s.logger.WithFields(logrus.Fields{
			"worker": workerID,
			"job":    job.ID,
			"error":  runErr,
		}).Error("Job failed")
	}
}

// finishWithoutContext resolves a job whose dispatch never got a context.
func (s *Scheduler) finishWithoutContext(job *Job, ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrShuttingDown):
		job.finish(JobCancelled, engine.Result{}, ErrShuttingDown)
	case errors.Is(ctx.Err(), context.Canceled):
		job.finish(JobCancelled, engine.Result{}, context.Canceled)
	case errors.Is(err, context.DeadlineExceeded):
		job.finish(JobTimedOut, engine.Result{}, fmt.Errorf("deadline exceeded waiting for a context"))
	case errors.Is(err, ErrContextCreationFailed):
		job.finish(JobFailed, engine.Result{}, err)
		s.monitor.RecordFailure()
	default:
		job.finish(JobFailed, engine.Result{}, err)
	}
	s.logger.WithFields(logrus.Fields{
		"job":   job.ID,
		"state": job.State(),
		"error": err,
	}).Warn("Job resolved without a context")
}

// Stats describes the orchestrator's current load.
type Stats struct {
	Pool     PoolStats `json:"pool"`
	Queued   int       `json:"queued"`
	Degraded bool      `json:"degraded"`
}

// Stats returns a snapshot of pool occupancy, queue length and breaker state.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Pool:     s.pool.Stats(),
		Queued:   len(s.jobs),
		Degraded: s.monitor.Degraded(),
	}
}

// Drain performs graceful shutdown: new submissions are rejected, still
// queued jobs resolve as cancelled with a shutdown reason, running jobs are
// allowed to finish, then the pool and monitor are torn down. No job is ever
// left without a delivered outcome.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.submitMu.Lock()
	if s.draining.Swap(true) {
		s.submitMu.Unlock()
		return nil
	}
	close(s.jobs)
	s.submitMu.Unlock()

	s.logger.Info("Draining orchestrator")
	s.workerWg.Wait()

	err := s.pool.Drain(ctx)

	s.monitor.Stop()
	s.monitorWg.Wait()

	s.regMu.Lock()
	s.registry = make(map[string]*Handle)
	s.regMu.Unlock()

	s.logger.Info("Orchestrator drained")
	return err
}
