package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kordes/nodeflow/internal/executors"
	"github.com/kordes/nodeflow/internal/logging"
	"github.com/kordes/nodeflow/internal/ports"
	"github.com/kordes/nodeflow/internal/streaming"
	"github.com/kordes/nodeflow/pkg/schema"
)

// GraphExecutor walks a workflow graph from its Start node, resolving inputs,
// dispatching executors, and applying branch selection and error policy.
type GraphExecutor struct {
	executors *executors.Registry
	ports     *ports.Registry
	hub       streaming.EventHub
	logger    *slog.Logger
}

// NewGraphExecutor wires the traversal core. hub may be nil for callers that
// do not observe events.
func NewGraphExecutor(execReg *executors.Registry, portReg *ports.Registry, hub streaming.EventHub, logger *slog.Logger) *GraphExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphExecutor{
		executors: execReg,
		ports:     portReg,
		hub:       hub,
		logger:    logger,
	}
}

// Run traverses the graph starting at the given node, usually the Start node.
func (g *GraphExecutor) Run(ctx context.Context, run *WorkflowRun, start schema.NodeDefinition) error {
	return g.executeNode(ctx, run, start)
}

// executeNode runs one node: cancellation check, input resolution, dispatch,
// then traversal of downstream connections or error-policy handling.
func (g *GraphExecutor) executeNode(ctx context.Context, run *WorkflowRun, node schema.NodeDefinition) error {
	if run.Cancelled() || ctx.Err() != nil {
		return schema.NewError(schema.ErrCodeCancelled, "workflow stopped").WithNode(node.ID)
	}

	ctx = logging.WithNodeID(ctx, node.ID)

	run.markNodeRunning(node.ID)
	g.emitNodeUpdate(run, node.ID, schema.NodeStatusRunning, nil)
	g.logger.InfoContext(ctx, "node started", "type", node.Type)

	exec, err := g.executors.Get(node.Type)
	if err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", node.Type).WithNode(node.ID).WithCause(err)
		run.markNodeError(node.ID, ferr)
		g.emitNodeUpdate(run, node.ID, schema.NodeStatusError, map[string]any{"error": ferr.Error()})
		return ferr
	}

	inputs := resolveInputs(node, run, g.ports)

	result, execErr := g.dispatch(ctx, run, node, exec, inputs)
	if execErr != nil {
		run.markNodeError(node.ID, execErr)
		g.emitNodeUpdate(run, node.ID, schema.NodeStatusError, map[string]any{"error": execErr.Error()})
		g.emitLog(run, node.ID, "error", execErr.Error())
		return g.handleNodeError(ctx, run, node, execErr)
	}

	outputs := result.Outputs()
	run.markNodeCompleted(node.ID, outputs)
	g.emitNodeUpdate(run, node.ID, schema.NodeStatusCompleted, map[string]any{"result": outputs})
	g.logger.InfoContext(ctx, "node completed", "type", node.Type)

	if result.SuppressTraversal() {
		return nil
	}
	return g.executeConnectedNodes(ctx, run, node, result)
}

// dispatch invokes the executor, applying the optional per-node timeout from
// config.timeout (a duration string such as "30s").
func (g *GraphExecutor) dispatch(ctx context.Context, run *WorkflowRun, node schema.NodeDefinition, exec executors.Executor, inputs map[string]any) (*schema.Result, error) {
	nodeCtx := ctx
	if d := nodeTimeout(node); d > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := exec.Execute(nodeCtx, executors.ExecInput{
		Node:   node,
		Inputs: inputs,
		Run:    &runScope{g: g, run: run, node: node},
	})
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "node exceeded its timeout").WithNode(node.ID).WithCause(err)
		}
		if fe, ok := err.(*schema.FlowError); ok {
			if fe.NodeID == "" {
				fe.NodeID = node.ID
			}
			return nil, fe
		}
		return nil, schema.NewError(schema.ErrCodeNodeExecution, err.Error()).WithNode(node.ID).WithCause(err)
	}
	if result == nil {
		result = schema.Continue(nil)
	}
	return result, nil
}

// handleNodeError applies the node's onError policy. Timeouts and
// cancellations escalate regardless of policy.
func (g *GraphExecutor) handleNodeError(ctx context.Context, run *WorkflowRun, node schema.NodeDefinition, execErr error) error {
	if escalates(execErr) {
		return execErr
	}

	switch policyOf(node) {
	case schema.ErrorPolicySkip:
		g.logger.WarnContext(ctx, "node failed, skipping branch", "type", node.Type, "error", execErr)
		return nil

	case schema.ErrorPolicyRetry:
		maxRetries := maxRetriesOf(node)
		if run.nodeRetryCount(node.ID) < maxRetries {
			attempt := run.incrementRetry(node.ID)
			g.logger.WarnContext(ctx, "node failed, retrying",
				"type", node.Type, "attempt", attempt, "max_retries", maxRetries, "error", execErr)
			g.emitLog(run, node.ID, "warn", "retrying after failure")
			if err := waitForBackoff(ctx, attempt); err != nil {
				return err
			}
			return g.executeNode(ctx, run, node)
		}
		g.logger.ErrorContext(ctx, "node failed, retries exhausted", "type", node.Type, "error", execErr)
		return execErr

	default: // stop
		return execErr
	}
}

// executeConnectedNodes traverses the node's outgoing connections. A Branch
// result prunes connections whose source port does not match the selected
// port. Targets run sequentially in connection array order for deterministic
// event ordering; config.parallelBranches opts a node's fan-out into
// concurrent execution, giving up that ordering guarantee.
func (g *GraphExecutor) executeConnectedNodes(ctx context.Context, run *WorkflowRun, node schema.NodeDefinition, result *schema.Result) error {
	nextPort, branched := result.BranchPort()

	var targets []schema.NodeDefinition
	for _, conn := range run.Connections {
		if conn.From.NodeID != node.ID {
			continue
		}
		if branched {
			if _, known := g.ports.PortsFor(node.Type); known {
				if g.ports.OutputName(node.Type, conn.From.PortIndex) != nextPort {
					continue
				}
			}
		}
		target, ok := run.NodeByID(conn.To.NodeID)
		if !ok {
			continue
		}
		targets = append(targets, target)
	}

	if parallelBranches(node) && len(targets) > 1 {
		return g.executeParallel(ctx, run, targets)
	}

	for _, target := range targets {
		if err := g.executeNode(ctx, run, target); err != nil {
			return err
		}
	}
	return nil
}

// executeParallel fans targets out concurrently, returning the first error.
func (g *GraphExecutor) executeParallel(ctx context.Context, run *WorkflowRun, targets []schema.NodeDefinition) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, target := range targets {
		wg.Add(1)
		go func(n schema.NodeDefinition) {
			defer wg.Done()
			if err := g.executeNode(ctx, run, n); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()
	return firstErr
}

// traversePort runs the nodes wired to the given output port of node,
// sequentially in connection order. Backs RunContext.TraverseBranch.
func (g *GraphExecutor) traversePort(ctx context.Context, run *WorkflowRun, node schema.NodeDefinition, port string) error {
	for _, conn := range run.Connections {
		if conn.From.NodeID != node.ID {
			continue
		}
		if g.ports.OutputName(node.Type, conn.From.PortIndex) != port {
			continue
		}
		target, ok := run.NodeByID(conn.To.NodeID)
		if !ok {
			continue
		}
		if err := g.executeNode(ctx, run, target); err != nil {
			return err
		}
	}
	return nil
}

func (g *GraphExecutor) emitNodeUpdate(run *WorkflowRun, nodeID string, status schema.NodeStatus, data map[string]any) {
	if g.hub == nil {
		return
	}
	payload := map[string]any{"status": string(status)}
	for k, v := range data {
		payload[k] = v
	}
	// fire-and-forget: a failing sink never fails the run
	_ = g.hub.Publish(context.Background(), streaming.StreamEvent{
		WorkflowID: run.WorkflowID,
		NodeID:     nodeID,
		EventType:  schema.EventNodeUpdate,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

func (g *GraphExecutor) emitLog(run *WorkflowRun, nodeID, level, message string) {
	if g.hub == nil {
		return
	}
	_ = g.hub.Publish(context.Background(), streaming.StreamEvent{
		WorkflowID: run.WorkflowID,
		NodeID:     nodeID,
		EventType:  schema.EventLogEntry,
		Payload:    map[string]any{"source": "engine", "level": level, "message": message},
		Timestamp:  time.Now(),
	})
}

// nodeTimeout reads config.timeout as a duration string, or config.timeoutMs.
func nodeTimeout(node schema.NodeDefinition) time.Duration {
	if s, ok := node.Config["timeout"].(string); ok && s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	switch v := node.Config["timeoutMs"].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}

// parallelBranches reads the per-node concurrent fan-out opt-in.
func parallelBranches(node schema.NodeDefinition) bool {
	b, _ := node.Config["parallelBranches"].(bool)
	return b
}

// runScope adapts a WorkflowRun to the executors.RunContext interface,
// pinned to the node currently executing.
type runScope struct {
	g    *GraphExecutor
	run  *WorkflowRun
	node schema.NodeDefinition
}

func (s *runScope) RunID() string        { return s.run.ID }
func (s *runScope) WorkspaceDir() string { return s.run.WorkspaceDir() }

func (s *runScope) Value(nodeID string) (any, bool) { return s.run.Value(nodeID) }

func (s *runScope) Variable(name string) (any, bool) { return s.run.Variable(name) }

func (s *runScope) SetVariable(name string, value any) { s.run.SetVariable(name, value) }

func (s *runScope) Scope(inputs map[string]any) map[string]any {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return map[string]any{
		"inputs":    inputs,
		"values":    s.run.valuesCopy(),
		"variables": s.run.variablesCopy(),
		"run": map[string]any{
			"id":         s.run.ID,
			"workflowId": s.run.WorkflowID,
			"status":     string(s.run.Status()),
		},
	}
}

func (s *runScope) TraverseBranch(ctx context.Context, port string) error {
	return s.g.traversePort(ctx, s.run, s.node, port)
}
