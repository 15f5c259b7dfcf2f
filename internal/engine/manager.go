package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kordes/nodeflow/internal/logging"
	"github.com/kordes/nodeflow/internal/metrics"
	"github.com/kordes/nodeflow/internal/streaming"
	"github.com/kordes/nodeflow/pkg/schema"
)

// Config tunes the lifecycle manager.
type Config struct {
	// MaxConcurrent caps simultaneously running workflows.
	MaxConcurrent int
	// DefaultTimeout bounds a whole run. Zero disables the run timeout.
	DefaultTimeout time.Duration
	// WorkspaceRoot is the parent directory for per-run workspaces.
	WorkspaceRoot string
	// KeepWorkspaces retains run workspaces after the run finishes.
	// By default they are removed once the run reaches a terminal status.
	KeepWorkspaces bool
	// QueueCapacity bounds the admission queue used by SubmitQueued.
	QueueCapacity int
	// HistoryCap bounds the run history ring.
	HistoryCap int
}

const (
	defaultMaxConcurrent = 5
	defaultRunTimeout    = 5 * time.Minute
	defaultQueueCapacity = 100
)

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = defaultRunTimeout
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = filepath.Join(os.TempDir(), "nodeflow", "workspaces")
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = metrics.DefaultHistoryCap
	}
}

// Validator checks a workflow definition before admission.
type Validator interface {
	Validate(def schema.WorkflowDefinition) error
}

// Manager admits, queues, times out, and stops workflow runs, and records
// their outcomes in metrics and history.
type Manager struct {
	cfg       Config
	graph     *GraphExecutor
	hub       streaming.EventHub
	logger    *slog.Logger
	validator Validator
	collector *metrics.Collector
	history   *metrics.History

	mu      sync.Mutex
	running map[string]*WorkflowRun
	// reserved counts capacity slots promised to queued submissions that
	// have not yet entered running. Capacity checks include it so a queued
	// workflow can never lose its slot to an interleaved Execute.
	reserved int
	queue    []schema.WorkflowDefinition
}

// NewManager builds a Manager. hub, validator, and collector may be nil.
func NewManager(cfg Config, graph *GraphExecutor, hub streaming.EventHub, validator Validator, collector *metrics.Collector, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Manager{
		cfg:       cfg,
		graph:     graph,
		hub:       hub,
		logger:    logger,
		validator: validator,
		collector: collector,
		history:   metrics.NewHistory(cfg.HistoryCap),
		running:   make(map[string]*WorkflowRun),
	}
}

// Execute admits and runs a workflow to its terminal status. Validation and
// capacity failures reject synchronously before any node runs. The returned
// snapshot always carries a terminal status; err mirrors a run-level failure.
func (m *Manager) Execute(ctx context.Context, def schema.WorkflowDefinition) (RunSnapshot, error) {
	return m.execute(ctx, def, false)
}

// execute admits and runs one workflow. reserved marks callers that already
// hold a capacity reservation (queued submissions); it is converted into the
// running slot here, so the capacity check cannot fail for them.
func (m *Manager) execute(ctx context.Context, def schema.WorkflowDefinition, reserved bool) (RunSnapshot, error) {
	start, err := m.admitCheck(def)
	if err != nil {
		m.releaseReservation(reserved)
		return RunSnapshot{}, err
	}

	runID := uuid.NewString()
	workspace := filepath.Join(m.cfg.WorkspaceRoot, runID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	run := newRun(runID, def, workspace, cancel)

	// Take the slot before any suspension point so the capacity check is
	// atomic against interleaved submissions.
	m.mu.Lock()
	if reserved {
		m.reserved--
	}
	if len(m.running)+m.reserved >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return RunSnapshot{}, schema.NewErrorf(schema.ErrCodeCapacity,
			"concurrency limit of %d reached", m.cfg.MaxConcurrent)
	}
	m.running[run.ID] = run
	m.mu.Unlock()
	m.collector.SetRunning(m.runningCount())

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		ferr := schema.NewError(schema.ErrCodeExecution, "workspace creation failed").WithCause(err)
		m.finalize(run, schema.RunStatusError, ferr)
		return run.Snapshot(), ferr
	}

	runCtx = logging.WithWorkflowID(runCtx, def.ID)
	run.setStatus(schema.RunStatusRunning, "")
	m.emitWorkflowUpdate(run, nil)
	m.logger.InfoContext(runCtx, "workflow started", "run_id", run.ID, "nodes", len(def.Nodes))

	done := make(chan error, 1)
	go func() {
		done <- m.graph.Run(runCtx, run, start)
	}()

	var timeout <-chan time.Time
	if m.cfg.DefaultTimeout > 0 {
		timer := time.NewTimer(m.cfg.DefaultTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var runErr error
	select {
	case err := <-done:
		runErr = err
	case <-timeout:
		cancel()
		runErr = schema.NewErrorf(schema.ErrCodeTimeout, "workflow exceeded timeout of %s", m.cfg.DefaultTimeout)
		// the in-flight executor keeps running to completion or its own
		// timeout; its result is discarded
	case <-runCtx.Done():
		runErr = schema.NewError(schema.ErrCodeCancelled, "workflow stopped").WithCause(runCtx.Err())
	}

	status := schema.RunStatusCompleted
	if runErr != nil {
		status = schema.RunStatusError
		if schema.CodeOf(runErr) == schema.ErrCodeCancelled {
			status = schema.RunStatusStopped
		}
	}
	m.finalize(run, status, runErr)

	snap := run.Snapshot()
	if snap.Status == schema.RunStatusStopped {
		// stop is not a caller-visible failure
		runErr = nil
	}
	return snap, runErr
}

// admitCheck validates the definition and locates the entry node.
func (m *Manager) admitCheck(def schema.WorkflowDefinition) (schema.NodeDefinition, error) {
	if m.validator != nil {
		if err := m.validator.Validate(def); err != nil {
			return schema.NodeDefinition{}, err
		}
	}

	var start schema.NodeDefinition
	count := 0
	for _, n := range def.Nodes {
		if n.Type == schema.StartNodeType {
			start = n
			count++
		}
	}
	if count != 1 {
		return schema.NodeDefinition{}, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow must contain exactly one %s node, found %d", schema.StartNodeType, count)
	}
	return start, nil
}

// finalize settles the run's terminal state, records metrics and history,
// cleans the workspace, and wakes the queue.
func (m *Manager) finalize(run *WorkflowRun, status schema.RunStatus, runErr error) {
	errMessage := ""
	if runErr != nil {
		errMessage = runErr.Error()
	}
	// a stop may already have settled a terminal status
	run.setStatus(status, errMessage)

	m.mu.Lock()
	delete(m.running, run.ID)
	m.mu.Unlock()
	m.collector.SetRunning(m.runningCount())

	snap := run.Snapshot()
	errCode := ""
	if runErr != nil && snap.Status == schema.RunStatusError {
		errCode = schema.CodeOf(runErr)
	}
	m.collector.Record(string(snap.Status), snap.Duration, errCode)
	m.history.Append(metrics.HistoryEntry{
		ID:                 snap.ID,
		WorkflowID:         snap.WorkflowID,
		Status:             string(snap.Status),
		StartTime:          snap.StartTime,
		EndTime:            snap.EndTime,
		DurationMs:         snap.Duration.Milliseconds(),
		CompletedNodeCount: snap.CompletedNodeCount,
		NodeCount:          snap.NodeCount,
		Error:              snap.Error,
	})

	if !m.cfg.KeepWorkspaces {
		if err := os.RemoveAll(run.WorkspaceDir()); err != nil {
			m.logger.Warn("workspace cleanup failed", "run_id", run.ID, "error", err)
		}
	}

	m.emitWorkflowUpdate(run, map[string]any{"error": snap.Error})
	m.logger.Info("workflow finished", "run_id", run.ID, "status", snap.Status, "duration_ms", snap.Duration.Milliseconds())

	m.processQueue()
}

// SubmitQueued starts the workflow immediately when capacity allows, or
// enqueues it. Queued runs start in submission order as capacity frees up.
func (m *Manager) SubmitQueued(def schema.WorkflowDefinition) error {
	if _, err := m.admitCheck(def); err != nil {
		return err
	}

	m.mu.Lock()
	if len(m.running)+m.reserved < m.cfg.MaxConcurrent {
		m.reserved++
		m.mu.Unlock()
		go m.runDetached(def)
		return nil
	}
	if len(m.queue) >= m.cfg.QueueCapacity {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeCapacity, "execution queue full (%d)", m.cfg.QueueCapacity)
	}
	m.queue = append(m.queue, def)
	queued := len(m.queue)
	m.mu.Unlock()

	m.collector.SetQueued(queued)
	if m.hub != nil {
		_ = m.hub.Publish(context.Background(), streaming.StreamEvent{
			WorkflowID: def.ID,
			EventType:  schema.EventWorkflowQueued,
			Payload:    map[string]any{"position": queued},
			Timestamp:  time.Now(),
		})
	}
	return nil
}

// processQueue pulls queued workflows while capacity remains.
func (m *Manager) processQueue() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || len(m.running)+m.reserved >= m.cfg.MaxConcurrent {
			queued := len(m.queue)
			m.mu.Unlock()
			m.collector.SetQueued(queued)
			return
		}
		def := m.queue[0]
		m.queue = m.queue[1:]
		m.reserved++
		m.mu.Unlock()

		go m.runDetached(def)
	}
}

// runDetached converts a queued submission's reservation into a run.
func (m *Manager) runDetached(def schema.WorkflowDefinition) {
	if _, err := m.execute(context.Background(), def, true); err != nil {
		m.logger.Error("queued workflow failed", "workflow_id", def.ID, "error", err)
	}
}

// releaseReservation gives a held slot back and wakes the queue.
func (m *Manager) releaseReservation(reserved bool) {
	if !reserved {
		return
	}
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
	m.processQueue()
}

// Stop requests cooperative cancellation of a running workflow. The run
// settles as stopped; executors awaiting external operations are not
// preempted, but their results are discarded and no further node starts.
func (m *Manager) Stop(runID string) error {
	m.mu.Lock()
	run, ok := m.running[runID]
	m.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no running workflow with id %q", runID)
	}

	run.setStatus(schema.RunStatusStopped, "")
	run.Cancel()

	if m.hub != nil {
		_ = m.hub.Publish(context.Background(), streaming.StreamEvent{
			WorkflowID: run.WorkflowID,
			EventType:  schema.EventWorkflowStopped,
			Payload:    map[string]any{"run_id": run.ID},
			Timestamp:  time.Now(),
		})
	}
	m.logger.Info("workflow stop requested", "run_id", runID)
	return nil
}

// Status returns the snapshot of a running workflow.
func (m *Manager) Status(runID string) (RunSnapshot, error) {
	m.mu.Lock()
	run, ok := m.running[runID]
	m.mu.Unlock()
	if !ok {
		return RunSnapshot{}, schema.NewErrorf(schema.ErrCodeNotFound, "no running workflow with id %q", runID)
	}
	return run.Snapshot(), nil
}

// ListRunning snapshots all in-flight runs.
func (m *Manager) ListRunning() []RunSnapshot {
	m.mu.Lock()
	runs := make([]*WorkflowRun, 0, len(m.running))
	for _, r := range m.running {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	out := make([]RunSnapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Snapshot())
	}
	return out
}

// Metrics returns the aggregate execution counters.
func (m *Manager) Metrics() metrics.Snapshot {
	return m.collector.Snapshot()
}

// History returns up to limit finished runs, newest first.
func (m *Manager) History(limit int) []metrics.HistoryEntry {
	return m.history.Recent(limit)
}

func (m *Manager) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) emitWorkflowUpdate(run *WorkflowRun, data map[string]any) {
	if m.hub == nil {
		return
	}
	snap := run.Snapshot()
	payload := map[string]any{
		"run_id":               snap.ID,
		"status":               string(snap.Status),
		"completed_node_count": snap.CompletedNodeCount,
	}
	for k, v := range data {
		if v != "" && v != nil {
			payload[k] = v
		}
	}
	_ = m.hub.Publish(context.Background(), streaming.StreamEvent{
		WorkflowID: run.WorkflowID,
		EventType:  schema.EventWorkflowUpdate,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}
