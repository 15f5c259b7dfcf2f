// Package engine implements workflow graph traversal: input resolution,
// executor dispatch, branch selection, per-node error policy, and the
// lifecycle manager that admits, queues, times out, and stops runs.
package engine

import (
	"sync"
	"time"

	"github.com/kordes/nodeflow/pkg/schema"
)

// NodeState tracks one node's execution within a run. Status moves forward
// only: idle → running → {completed|error}. A retry attempt re-enters
// running but keeps RetryCount.
type NodeState struct {
	Status     schema.NodeStatus `json:"status"`
	StartTime  time.Time         `json:"start_time,omitempty"`
	EndTime    time.Time         `json:"end_time,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
	Result     map[string]any    `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retry_count,omitempty"`
}

// WorkflowRun is one execution instance of a workflow graph. It is owned by
// a single Manager.Execute invocation; the mutex guards against concurrent
// readers (Status, Stop) and the parallel-branch fan-out path.
type WorkflowRun struct {
	ID          string
	WorkflowID  string
	Nodes       []schema.NodeDefinition
	Connections []schema.Connection

	mu             sync.Mutex
	status         schema.RunStatus
	startTime      time.Time
	endTime        time.Time
	cancelled      bool
	errMessage     string
	completedCount int
	nodeStates     map[string]*NodeState
	values         map[string]any
	variables      map[string]any
	workspaceDir   string
	nodesByID      map[string]schema.NodeDefinition
	cancel         func()
}

// RunSnapshot is an immutable copy of a run's observable state.
type RunSnapshot struct {
	ID                 string               `json:"id"`
	WorkflowID         string               `json:"workflow_id"`
	Status             schema.RunStatus     `json:"status"`
	StartTime          time.Time            `json:"start_time"`
	EndTime            time.Time            `json:"end_time,omitempty"`
	Duration           time.Duration        `json:"duration,omitempty"`
	Cancelled          bool                 `json:"cancelled"`
	Error              string               `json:"error,omitempty"`
	CompletedNodeCount int                  `json:"completed_node_count"`
	NodeCount          int                  `json:"node_count"`
	NodeStates         map[string]NodeState `json:"node_states"`
}

func newRun(id string, def schema.WorkflowDefinition, workspaceDir string, cancel func()) *WorkflowRun {
	byID := make(map[string]schema.NodeDefinition, len(def.Nodes))
	for _, n := range def.Nodes {
		byID[n.ID] = n
	}
	return &WorkflowRun{
		ID:           id,
		WorkflowID:   def.ID,
		Nodes:        def.Nodes,
		Connections:  def.Connections,
		status:       schema.RunStatusPending,
		startTime:    time.Now(),
		nodeStates:   make(map[string]*NodeState),
		values:       make(map[string]any),
		variables:    make(map[string]any),
		workspaceDir: workspaceDir,
		nodesByID:    byID,
		cancel:       cancel,
	}
}

// NodeByID resolves a node definition by ID.
func (r *WorkflowRun) NodeByID(id string) (schema.NodeDefinition, bool) {
	n, ok := r.nodesByID[id]
	return n, ok
}

// Status returns the current run status.
func (r *WorkflowRun) Status() schema.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// setStatus advances the run status. Terminal statuses are sticky: once the
// run is completed, errored, or stopped, later transitions are ignored.
func (r *WorkflowRun) setStatus(s schema.RunStatus, errMessage string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	r.status = s
	if errMessage != "" {
		r.errMessage = errMessage
	}
	if s.Terminal() {
		r.endTime = time.Now()
	}
	return true
}

// Cancel flips the cooperative cancellation flag and cancels the run
// context. Traversal observes the flag at the next node boundary.
func (r *WorkflowRun) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether a stop has been requested.
func (r *WorkflowRun) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// WorkspaceDir returns the per-run scratch directory.
func (r *WorkflowRun) WorkspaceDir() string {
	return r.workspaceDir
}

// markNodeRunning transitions a node to running, creating its state lazily.
// A retried node re-enters running with its RetryCount preserved.
func (r *WorkflowRun) markNodeRunning(nodeID string) *NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.nodeStates[nodeID]
	if !ok {
		st = &NodeState{}
		r.nodeStates[nodeID] = st
	}
	st.Status = schema.NodeStatusRunning
	st.StartTime = time.Now()
	st.EndTime = time.Time{}
	st.Duration = 0
	st.Error = ""
	return st
}

// markNodeCompleted finalizes a successful node attempt and stores its
// outputs into the run's value map.
func (r *WorkflowRun) markNodeCompleted(nodeID string, outputs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.nodeStates[nodeID]
	if !ok {
		st = &NodeState{}
		r.nodeStates[nodeID] = st
	}
	st.Status = schema.NodeStatusCompleted
	st.EndTime = time.Now()
	st.Duration = st.EndTime.Sub(st.StartTime)
	st.Result = outputs
	r.values[nodeID] = outputs
	if r.completedCount < len(r.Nodes) {
		r.completedCount++
	}
}

// markNodeError finalizes a failed node attempt.
func (r *WorkflowRun) markNodeError(nodeID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.nodeStates[nodeID]
	if !ok {
		st = &NodeState{}
		r.nodeStates[nodeID] = st
	}
	st.Status = schema.NodeStatusError
	st.EndTime = time.Now()
	st.Duration = st.EndTime.Sub(st.StartTime)
	if err != nil {
		st.Error = err.Error()
	}
}

// nodeRetryCount returns the current retry count for a node.
func (r *WorkflowRun) nodeRetryCount(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.nodeStates[nodeID]; ok {
		return st.RetryCount
	}
	return 0
}

// incrementRetry bumps and returns the node's retry count.
func (r *WorkflowRun) incrementRetry(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.nodeStates[nodeID]
	if !ok {
		st = &NodeState{}
		r.nodeStates[nodeID] = st
	}
	st.RetryCount++
	return st.RetryCount
}

// Value returns a previously stored node result.
func (r *WorkflowRun) Value(nodeID string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[nodeID]
	return v, ok
}

// Variable reads a run variable.
func (r *WorkflowRun) Variable(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variables[name]
	return v, ok
}

// SetVariable writes a run variable.
func (r *WorkflowRun) SetVariable(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

// valuesCopy returns a shallow copy of the node value map.
func (r *WorkflowRun) valuesCopy() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// variablesCopy returns a shallow copy of the run variables.
func (r *WorkflowRun) variablesCopy() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.variables))
	for k, v := range r.variables {
		out[k] = v
	}
	return out
}

// Snapshot copies the run's observable state.
func (r *WorkflowRun) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]NodeState, len(r.nodeStates))
	for id, st := range r.nodeStates {
		states[id] = *st
	}

	s := RunSnapshot{
		ID:                 r.ID,
		WorkflowID:         r.WorkflowID,
		Status:             r.status,
		StartTime:          r.startTime,
		EndTime:            r.endTime,
		Cancelled:          r.cancelled,
		Error:              r.errMessage,
		CompletedNodeCount: r.completedCount,
		NodeCount:          len(r.Nodes),
		NodeStates:         states,
	}
	if !r.endTime.IsZero() {
		s.Duration = r.endTime.Sub(r.startTime)
	}
	return s
}
