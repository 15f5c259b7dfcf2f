package schema

// Event type constants for the broadcast stream.
const (
	EventWorkflowUpdate = "workflow_update"
	EventNodeUpdate     = "node_update"
	EventLogEntry       = "log_entry"

	EventWorkflowQueued  = "workflow_queued"
	EventWorkflowStopped = "workflow_stopped"
)

// RunStatus is the lifecycle state of a workflow run.
// Transitions are forward-only: pending → running → {completed|error|stopped}.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusStopped   RunStatus = "stopped"
)

// Terminal reports whether the status is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError || s == RunStatusStopped
}

// NodeStatus is the lifecycle state of a single node within a run.
// Transitions are forward-only: idle → running → {completed|error}.
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusError     NodeStatus = "error"
)
