// Package scheduler runs workflows on cron schedules. Jobs live in memory
// and are re-registered on process restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kordes/nodeflow/pkg/schema"
)

// Runner is the interface the scheduler uses to submit workflows.
// Satisfied by engine.Manager (avoids an import cycle).
type Runner interface {
	SubmitQueued(def schema.WorkflowDefinition) error
}

// Job is one registered cron schedule for a workflow.
type Job struct {
	ID            string                    `json:"id"`
	CronExpr      string                    `json:"cron_expr"`
	Workflow      schema.WorkflowDefinition `json:"workflow"`
	Enabled       bool                      `json:"enabled"`
	LastRunAt     time.Time                 `json:"last_run_at,omitempty"`
	NextRunAt     time.Time                 `json:"next_run_at"`
	LastRunStatus string                    `json:"last_run_status,omitempty"`

	schedule cron.Schedule
}

// Scheduler ticks once a minute and submits due jobs.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler using the standard five-field cron format.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job. The cron expression is validated here; a duplicate job
// ID is a conflict.
func (s *Scheduler) Add(id, cronExpr string, def schema.WorkflowDefinition) error {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", cronExpr).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", id)
	}
	s.jobs[id] = &Job{
		ID:        id,
		CronExpr:  cronExpr,
		Workflow:  def,
		Enabled:   true,
		NextRunAt: schedule.Next(time.Now()),
		schedule:  schedule,
	}
	s.logger.Info("scheduled job added", "job_id", id, "cron", cronExpr)
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no scheduled job %q", id)
	}
	delete(s.jobs, id)
	return nil
}

// SetEnabled toggles a job without removing it.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no scheduled job %q", id)
	}
	job.Enabled = enabled
	return nil
}

// List returns all jobs, sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started")
	return nil
}

// Stop gracefully shuts down the scheduling loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits every enabled job whose next run time has passed. Exported
// for tests and for callers that drive the clock themselves.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		s.runJob(job, now)
		s.release(job.ID)
	}
}

func (s *Scheduler) runJob(job *Job, now time.Time) {
	s.logger.Info("running scheduled job", "job_id", job.ID, "workflow_id", job.Workflow.ID)

	err := s.runner.SubmitQueued(job.Workflow)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled job submission failed", "job_id", job.ID, "error", err)
	}

	s.mu.Lock()
	job.LastRunAt = now
	job.LastRunStatus = status
	job.NextRunAt = job.schedule.Next(now)
	s.mu.Unlock()
}

// tryAcquire marks the job in-flight, returning false if it already is.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}
