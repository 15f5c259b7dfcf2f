package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/nodeflow/internal/executors"
	"github.com/kordes/nodeflow/internal/ports"
	"github.com/kordes/nodeflow/internal/streaming"
	"github.com/kordes/nodeflow/pkg/schema"
)

// testRig bundles a Manager with the registries tests customize.
type testRig struct {
	manager  *Manager
	execReg  *executors.Registry
	portReg  *ports.Registry
	hub      *streaming.MemoryHub
	mu       sync.Mutex
	order    []string
	failures map[string]int
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	cfg.WorkspaceRoot = t.TempDir()
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	rig := &testRig{
		execReg:  executors.NewRegistry(),
		portReg:  ports.NewRegistry(),
		hub:      streaming.NewMemoryHub(),
		failures: make(map[string]int),
	}

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: schema.StartNodeType,
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			rig.record(in.Node.ID)
			return schema.Continue(nil), nil
		},
	}))
	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "End",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			rig.record(in.Node.ID)
			return schema.Continue(map[string]any{"done": true}), nil
		},
	}))
	rig.portReg.Define("End", ports.PortMap{Inputs: []string{"main"}})

	graph := NewGraphExecutor(rig.execReg, rig.portReg, rig.hub, nil)
	rig.manager = NewManager(cfg, graph, rig.hub, nil, nil, nil)
	return rig
}

func (r *testRig) record(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, nodeID)
}

func (r *testRig) executionOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// registerRecorder adds a pass-through node type that records its execution.
func (r *testRig) registerRecorder(t *testing.T, nodeType string) {
	t.Helper()
	require.NoError(t, r.execReg.Register(executors.ExecutorFunc{
		NodeType: nodeType,
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			r.record(in.Node.ID)
			return schema.Continue(map[string]any{"value": in.Node.ID}), nil
		},
	}))
	r.portReg.Define(nodeType, ports.PortMap{Inputs: []string{"value"}, Outputs: []string{"value"}})
}

func node(id, nodeType string, config map[string]any) schema.NodeDefinition {
	return schema.NodeDefinition{ID: id, Type: nodeType, Config: config}
}

func conn(id, from string, fromIdx int, to string, toIdx int) schema.Connection {
	return schema.Connection{
		ID:   id,
		From: schema.PortRef{NodeID: from, PortIndex: fromIdx},
		To:   schema.PortRef{NodeID: to, PortIndex: toIdx},
	}
}

func TestLinearChainExecutesInOrder(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	def := schema.WorkflowDefinition{
		ID: "wf-linear",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("a", "Task", nil),
			node("b", "Task", nil),
			node("end", "End", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "a", 0),
			conn("c2", "a", 0, "b", 0),
			conn("c3", "b", 0, "end", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.Equal(t, []string{"start", "a", "b", "end"}, rig.executionOrder())
	assert.Equal(t, 4, snap.CompletedNodeCount)
	for _, id := range []string{"start", "a", "b", "end"} {
		st, ok := snap.NodeStates[id]
		require.True(t, ok, "missing node state for %s", id)
		assert.Equal(t, schema.NodeStatusCompleted, st.Status)
	}
}

func TestStartOnlyWorkflowCompletes(t *testing.T) {
	rig := newTestRig(t, Config{})

	snap, err := rig.manager.Execute(context.Background(), schema.WorkflowDefinition{
		ID:    "wf-start-only",
		Nodes: []schema.NodeDefinition{node("start", "Start", nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.CompletedNodeCount)
}

func TestMissingStartNodeRejected(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	_, err := rig.manager.Execute(context.Background(), schema.WorkflowDefinition{
		ID:    "wf-no-start",
		Nodes: []schema.NodeDefinition{node("a", "Task", nil)},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	assert.Empty(t, rig.executionOrder(), "no node may execute on validation failure")
}

func TestCapacityLimitRejectsSecondRun(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Block",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			close(started)
			<-release
			return schema.Continue(nil), nil
		},
	}))

	blocking := schema.WorkflowDefinition{
		ID: "wf-blocking",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("block", "Block", nil),
		},
		Connections: []schema.Connection{conn("c1", "start", 0, "block", 0)},
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := rig.manager.Execute(context.Background(), blocking)
		errCh <- err
	}()
	<-started

	_, err := rig.manager.Execute(context.Background(), schema.WorkflowDefinition{
		ID:    "wf-second",
		Nodes: []schema.NodeDefinition{node("start2", "Start", nil)},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCapacity, schema.CodeOf(err))
	assert.NotContains(t, rig.executionOrder(), "start2")

	close(release)
	require.NoError(t, <-errCh)
}

func TestBranchSelectionPrunesOtherPort(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Pick",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			rig.record(in.Node.ID)
			return schema.Branch("false", map[string]any{"result": false}), nil
		},
	}))
	rig.portReg.Define("Pick", ports.PortMap{Inputs: []string{"value"}, Outputs: []string{"true", "false"}})

	def := schema.WorkflowDefinition{
		ID: "wf-branch",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("pick", "Pick", nil),
			node("onTrue", "Task", nil),
			node("onFalse", "Task", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "pick", 0),
			conn("c2", "pick", 0, "onTrue", 0),
			conn("c3", "pick", 1, "onFalse", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	order := rig.executionOrder()
	assert.Contains(t, order, "onFalse")
	assert.NotContains(t, order, "onTrue", "pruned branch must never execute")
	_, visited := snap.NodeStates["onTrue"]
	assert.False(t, visited)
}

func TestRetryPolicySucceedsAfterFailures(t *testing.T) {
	rig := newTestRig(t, Config{})

	attempts := 0
	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Flaky",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			attempts++
			if attempts < 3 {
				return nil, schema.NewError(schema.ErrCodeNodeExecution, "transient failure")
			}
			return schema.Continue(map[string]any{"attempt": attempts}), nil
		},
	}))

	def := schema.WorkflowDefinition{
		ID: "wf-retry",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("flaky", "Flaky", map[string]any{"onError": "retry", "maxRetries": 2}),
		},
		Connections: []schema.Connection{conn("c1", "start", 0, "flaky", 0)},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, snap.NodeStates["flaky"].RetryCount)
	assert.Equal(t, schema.NodeStatusCompleted, snap.NodeStates["flaky"].Status)
}

func TestRetryExhaustionFailsRun(t *testing.T) {
	rig := newTestRig(t, Config{})

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Broken",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			return nil, schema.NewError(schema.ErrCodeNodeExecution, "always fails")
		},
	}))

	def := schema.WorkflowDefinition{
		ID: "wf-retry-exhaust",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("broken", "Broken", map[string]any{"onError": "retry", "maxRetries": 1}),
		},
		Connections: []schema.Connection{conn("c1", "start", 0, "broken", 0)},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusError, snap.Status)
	assert.Equal(t, 1, snap.NodeStates["broken"].RetryCount)
}

func TestSkipPolicyKeepsSiblingBranchAlive(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Broken",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			return nil, schema.NewError(schema.ErrCodeNodeExecution, "always fails")
		},
	}))
	rig.portReg.Define("Broken", ports.PortMap{Inputs: []string{"value"}, Outputs: []string{"value"}})

	def := schema.WorkflowDefinition{
		ID: "wf-skip",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("broken", "Broken", map[string]any{"onError": "skip"}),
			node("afterBroken", "Task", nil),
			node("sibling", "Task", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "broken", 0),
			conn("c2", "broken", 0, "afterBroken", 0),
			conn("c3", "start", 0, "sibling", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.Equal(t, schema.NodeStatusError, snap.NodeStates["broken"].Status)
	assert.NotContains(t, rig.executionOrder(), "afterBroken", "skip must not continue past the failed node")
	assert.Contains(t, rig.executionOrder(), "sibling")
	assert.Equal(t, schema.NodeStatusCompleted, snap.NodeStates["sibling"].Status)
}

func TestSkipPolicyAppliesToExecutorValidationErrors(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Broken",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			return nil, schema.NewError(schema.ErrCodeValidation, "Broken requires config.thing")
		},
	}))
	rig.portReg.Define("Broken", ports.PortMap{Inputs: []string{"value"}, Outputs: []string{"value"}})

	def := schema.WorkflowDefinition{
		ID: "wf-skip-validation",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("broken", "Broken", map[string]any{"onError": "skip"}),
			node("sibling", "Task", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "broken", 0),
			conn("c2", "start", 0, "sibling", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err, "a skipped node's own validation failure must not abort the run")

	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.Equal(t, schema.NodeStatusError, snap.NodeStates["broken"].Status)
	assert.Contains(t, rig.executionOrder(), "sibling")
}

func TestStopMidRunSettlesStopped(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	started := make(chan struct{})
	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Block",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, schema.NewError(schema.ErrCodeCancelled, "interrupted").WithCause(ctx.Err())
		},
	}))
	rig.portReg.Define("Block", ports.PortMap{Inputs: []string{"value"}, Outputs: []string{"value"}})

	def := schema.WorkflowDefinition{
		ID: "wf-stop",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("block", "Block", nil),
			node("after", "Task", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "block", 0),
			conn("c2", "block", 0, "after", 0),
		},
	}

	type outcome struct {
		snap RunSnapshot
		err  error
	}
	outCh := make(chan outcome, 1)
	go func() {
		snap, err := rig.manager.Execute(context.Background(), def)
		outCh <- outcome{snap, err}
	}()
	<-started

	running := rig.manager.ListRunning()
	require.Len(t, running, 1)
	require.NoError(t, rig.manager.Stop(running[0].ID))

	out := <-outCh
	require.NoError(t, out.err)
	assert.Equal(t, schema.RunStatusStopped, out.snap.Status)
	assert.True(t, out.snap.Cancelled)
	assert.NotContains(t, rig.executionOrder(), "after", "no new node may start after stop")
}

func TestStopUnknownRunReturnsNotFound(t *testing.T) {
	rig := newTestRig(t, Config{})
	err := rig.manager.Stop("no-such-run")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestUnknownNodeTypeFailsRun(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.registerRecorder(t, "Task")

	def := schema.WorkflowDefinition{
		ID: "wf-bogus",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("bogus", "Bogus", map[string]any{"onError": "retry"}),
			node("after", "Task", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "bogus", 0),
			conn("c2", "bogus", 0, "after", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusError, snap.Status)
	assert.Contains(t, snap.Error, "Bogus")
	assert.NotContains(t, rig.executionOrder(), "after")
	assert.Zero(t, snap.NodeStates["bogus"].RetryCount, "configuration errors are never retried")
}

func TestMetricsRoundTrip(t *testing.T) {
	rig := newTestRig(t, Config{})

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Broken",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			return nil, schema.NewError(schema.ErrCodeNodeExecution, "boom")
		},
	}))

	ok := schema.WorkflowDefinition{
		ID:    "wf-ok",
		Nodes: []schema.NodeDefinition{node("start", "Start", nil)},
	}
	failing := schema.WorkflowDefinition{
		ID: "wf-fail",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("broken", "Broken", nil),
		},
		Connections: []schema.Connection{conn("c1", "start", 0, "broken", 0)},
	}

	for i := 0; i < 3; i++ {
		_, err := rig.manager.Execute(context.Background(), ok)
		require.NoError(t, err)
	}
	_, err := rig.manager.Execute(context.Background(), failing)
	require.Error(t, err)

	m := rig.manager.Metrics()
	assert.Equal(t, m.TotalExecutions, m.Succeeded+m.Failed+m.Stopped)
	assert.Equal(t, int64(3), m.Succeeded)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(1), m.ErrorsByCode[schema.ErrCodeNodeExecution])

	hist := rig.manager.History(0)
	require.Len(t, hist, 4)
	assert.Equal(t, "wf-fail", hist[0].WorkflowID)
}

func TestDelayNodeTakesConfiguredTime(t *testing.T) {
	rig := newTestRig(t, Config{})

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Delay",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return schema.Continue(nil), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	def := schema.WorkflowDefinition{
		ID: "wf-delay",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("delay", "Delay", map[string]any{"duration": "500ms"}),
			node("end", "End", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "delay", 0),
			conn("c2", "delay", 0, "end", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
	assert.GreaterOrEqual(t, snap.Duration, 500*time.Millisecond)
}

func TestRunTimeoutFailsRun(t *testing.T) {
	rig := newTestRig(t, Config{DefaultTimeout: 100 * time.Millisecond})

	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Slow",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return schema.Continue(nil), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	def := schema.WorkflowDefinition{
		ID: "wf-timeout",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("slow", "Slow", nil),
		},
		Connections: []schema.Connection{conn("c1", "start", 0, "slow", 0)},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTimeout, schema.CodeOf(err))
	assert.Equal(t, schema.RunStatusError, snap.Status)
}

func TestSubmitQueuedRunsAfterCapacityFrees(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Block",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			close(started)
			<-release
			return schema.Continue(nil), nil
		},
	}))

	blocking := schema.WorkflowDefinition{
		ID: "wf-first",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", nil),
			node("block", "Block", nil),
		},
		Connections: []schema.Connection{conn("c1", "start", 0, "block", 0)},
	}
	queued := schema.WorkflowDefinition{
		ID:    "wf-queued",
		Nodes: []schema.NodeDefinition{node("start2", "Start", nil)},
	}

	require.NoError(t, rig.manager.SubmitQueued(blocking))
	<-started
	require.NoError(t, rig.manager.SubmitQueued(queued))
	assert.NotContains(t, rig.executionOrder(), "start2")

	close(release)

	require.Eventually(t, func() bool {
		for _, id := range rig.executionOrder() {
			if id == "start2" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "queued workflow must run once capacity frees")
}

func TestSubmitQueuedNeverDropsAcceptedWork(t *testing.T) {
	rig := newTestRig(t, Config{MaxConcurrent: 1, QueueCapacity: 100})

	const submissions = 25
	def := schema.WorkflowDefinition{
		ID:    "wf-flood",
		Nodes: []schema.NodeDefinition{node("start", "Start", nil)},
	}
	for i := 0; i < submissions; i++ {
		require.NoError(t, rig.manager.SubmitQueued(def))
	}

	// every accepted submission must execute exactly once, even when
	// submissions race the drain of earlier runs
	require.Eventually(t, func() bool {
		return len(rig.executionOrder()) == submissions
	}, 10*time.Second, 10*time.Millisecond, "every accepted submission must eventually run")
}

func TestParallelBranchesRunConcurrently(t *testing.T) {
	rig := newTestRig(t, Config{})

	var wg sync.WaitGroup
	wg.Add(2)
	require.NoError(t, rig.execReg.Register(executors.ExecutorFunc{
		NodeType: "Meet",
		Fn: func(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
			// both branches must be in flight at once for this to return
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return schema.Continue(nil), nil
			case <-time.After(2 * time.Second):
				return nil, schema.NewError(schema.ErrCodeTimeout, "branches did not overlap")
			}
		},
	}))

	def := schema.WorkflowDefinition{
		ID: "wf-parallel",
		Nodes: []schema.NodeDefinition{
			node("start", "Start", map[string]any{"parallelBranches": true}),
			node("left", "Meet", nil),
			node("right", "Meet", nil),
		},
		Connections: []schema.Connection{
			conn("c1", "start", 0, "left", 0),
			conn("c2", "start", 0, "right", 0),
		},
	}

	snap, err := rig.manager.Execute(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
}
