package schema

// NodeDefinition describes one typed node in a workflow graph.
// X and Y are editor layout coordinates; the engine ignores them.
// Inputs and Outputs are UI metadata — true port semantics come from the
// port registry, not from these arrays.
type NodeDefinition struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Config  map[string]any `json:"config,omitempty"`
	X       float64        `json:"x,omitempty"`
	Y       float64        `json:"y,omitempty"`
	Inputs  []string       `json:"inputs,omitempty"`
	Outputs []string       `json:"outputs,omitempty"`
}

// PortRef addresses one positional port on a node.
type PortRef struct {
	NodeID    string `json:"nodeId"`
	PortIndex int    `json:"portIndex"`
}

// Connection is a directed edge from an output port to an input port.
// Multiple connections may share a From, fanning out.
type Connection struct {
	ID   string  `json:"id"`
	From PortRef `json:"from"`
	To   PortRef `json:"to"`
}

// WorkflowDefinition is the JSON-serializable submission format.
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	Nodes       []NodeDefinition `json:"nodes"`
	Connections []Connection     `json:"connections,omitempty"`
}

// StartNodeType is the unique entry-point node type. Every workflow must
// contain exactly one node of this type.
const StartNodeType = "Start"

// ErrorPolicy is the per-node failure handling mode, read from
// node.config.onError.
type ErrorPolicy string

const (
	ErrorPolicyStop  ErrorPolicy = "stop"
	ErrorPolicySkip  ErrorPolicy = "skip"
	ErrorPolicyRetry ErrorPolicy = "retry"
)

// DefaultMaxRetries applies when onError is "retry" and config.maxRetries
// is absent.
const DefaultMaxRetries = 3
