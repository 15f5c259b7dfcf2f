// Package executors defines the pluggable per-node-type execution contract
// and the built-in node set.
package executors

import (
	"context"

	"github.com/kordes/nodeflow/pkg/schema"
)

// RunContext is the engine-provided view of the owning run that executors
// may read and, for variables, mutate. It also exposes branch traversal for
// executors that drive their own subgraph (Loop).
type RunContext interface {
	// RunID returns the workflow run identifier.
	RunID() string

	// WorkspaceDir returns the per-run scratch directory. It exists for the
	// run's full duration.
	WorkspaceDir() string

	// Value returns the stored result of an already-executed node.
	Value(nodeID string) (any, bool)

	// Variable reads a run variable.
	Variable(name string) (any, bool)

	// SetVariable writes a run variable.
	SetVariable(name string, value any)

	// Scope builds the expression evaluation scope for this node:
	// {inputs, values, variables, run}.
	Scope(inputs map[string]any) map[string]any

	// TraverseBranch executes the nodes connected to the current node's
	// named output port, sequentially in connection order. Used by executors
	// that return Handled and continue the graph themselves.
	TraverseBranch(ctx context.Context, port string) error
}

// ExecInput is the data handed to an executor at dispatch time.
type ExecInput struct {
	Node   schema.NodeDefinition
	Inputs map[string]any
	Run    RunContext
}

// Executor implements one node type's behavior.
type Executor interface {
	Type() string
	Execute(ctx context.Context, in ExecInput) (*schema.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc struct {
	NodeType string
	Fn       func(ctx context.Context, in ExecInput) (*schema.Result, error)
}

func (f ExecutorFunc) Type() string { return f.NodeType }

func (f ExecutorFunc) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	return f.Fn(ctx, in)
}
