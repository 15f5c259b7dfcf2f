package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/nodeflow/internal/engine"
	"github.com/kordes/nodeflow/internal/metrics"
	"github.com/kordes/nodeflow/internal/scheduler"
	"github.com/kordes/nodeflow/pkg/schema"
)

// --- Mock engine ---

type mockEngine struct {
	executed  []schema.WorkflowDefinition
	queued    []schema.WorkflowDefinition
	stopped   []string
	snapshot  engine.RunSnapshot
	execErr   error
	stopErr   error
	statusErr error
}

func (m *mockEngine) Execute(_ context.Context, def schema.WorkflowDefinition) (engine.RunSnapshot, error) {
	m.executed = append(m.executed, def)
	return m.snapshot, m.execErr
}

func (m *mockEngine) SubmitQueued(def schema.WorkflowDefinition) error {
	m.queued = append(m.queued, def)
	return nil
}

func (m *mockEngine) Stop(runID string) error {
	m.stopped = append(m.stopped, runID)
	return m.stopErr
}

func (m *mockEngine) Status(runID string) (engine.RunSnapshot, error) {
	return m.snapshot, m.statusErr
}

func (m *mockEngine) ListRunning() []engine.RunSnapshot {
	return []engine.RunSnapshot{m.snapshot}
}

func (m *mockEngine) Metrics() metrics.Snapshot {
	return metrics.Snapshot{TotalExecutions: 7, Succeeded: 5, Failed: 2}
}

func (m *mockEngine) History(limit int) []metrics.HistoryEntry {
	return []metrics.HistoryEntry{{ID: "run-1", Status: "completed"}}
}

// --- Mock schedules ---

type mockSchedules struct {
	added   []string
	removed []string
	enabled map[string]bool
	jobs    []scheduler.Job
	addErr  error
}

func (m *mockSchedules) Add(id, cronExpr string, def schema.WorkflowDefinition) error {
	m.added = append(m.added, id)
	return m.addErr
}

func (m *mockSchedules) Remove(id string) error {
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockSchedules) SetEnabled(id string, enabled bool) error {
	if m.enabled == nil {
		m.enabled = make(map[string]bool)
	}
	m.enabled[id] = enabled
	return nil
}

func (m *mockSchedules) List() []scheduler.Job {
	return m.jobs
}

func newRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func workflowArg() map[string]any {
	return map[string]any{
		"id": "wf-1",
		"nodes": []any{
			map[string]any{"id": "start", "type": "Start"},
		},
	}
}

// --- Tests ---

func TestRunToolExecutesWorkflow(t *testing.T) {
	eng := &mockEngine{snapshot: engine.RunSnapshot{ID: "run-1", Status: schema.RunStatusCompleted}}
	s := NewNodeflowServer(eng, nil, nil)

	res, err := s.handleRun(context.Background(), newRequest("nodeflow.run", map[string]any{
		"workflow": workflowArg(),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	require.Len(t, eng.executed, 1)
	assert.Equal(t, "wf-1", eng.executed[0].ID)

	var snap engine.RunSnapshot
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &snap))
	assert.Equal(t, schema.RunStatusCompleted, snap.Status)
}

func TestRunToolQueuedSubmission(t *testing.T) {
	eng := &mockEngine{}
	s := NewNodeflowServer(eng, nil, nil)

	res, err := s.handleRun(context.Background(), newRequest("nodeflow.run", map[string]any{
		"workflow": workflowArg(),
		"queued":   true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, eng.queued, 1)
	assert.Empty(t, eng.executed)
}

func TestRunToolRequiresWorkflow(t *testing.T) {
	s := NewNodeflowServer(&mockEngine{}, nil, nil)
	res, err := s.handleRun(context.Background(), newRequest("nodeflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunToolReportsRejection(t *testing.T) {
	eng := &mockEngine{execErr: schema.NewError(schema.ErrCodeCapacity, "concurrency limit reached")}
	s := NewNodeflowServer(eng, nil, nil)

	res, err := s.handleRun(context.Background(), newRequest("nodeflow.run", map[string]any{
		"workflow": workflowArg(),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStopTool(t *testing.T) {
	eng := &mockEngine{}
	s := NewNodeflowServer(eng, nil, nil)

	res, err := s.handleStop(context.Background(), newRequest("nodeflow.stop", map[string]any{
		"run_id": "run-9",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, []string{"run-9"}, eng.stopped)
}

func TestStopToolUnknownRun(t *testing.T) {
	eng := &mockEngine{stopErr: schema.NewError(schema.ErrCodeNotFound, "no running workflow")}
	s := NewNodeflowServer(eng, nil, nil)

	res, err := s.handleStop(context.Background(), newRequest("nodeflow.stop", map[string]any{
		"run_id": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStatusTool(t *testing.T) {
	eng := &mockEngine{snapshot: engine.RunSnapshot{ID: "run-2", Status: schema.RunStatusRunning}}
	s := NewNodeflowServer(eng, nil, nil)

	res, err := s.handleStatus(context.Background(), newRequest("nodeflow.status", map[string]any{
		"run_id": "run-2",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var snap engine.RunSnapshot
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &snap))
	assert.Equal(t, schema.RunStatusRunning, snap.Status)
}

func TestMetricsTool(t *testing.T) {
	s := NewNodeflowServer(&mockEngine{}, nil, nil)

	res, err := s.handleMetrics(context.Background(), newRequest("nodeflow.metrics", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &snap))
	assert.Equal(t, int64(7), snap.TotalExecutions)
}

func TestHistoryTool(t *testing.T) {
	s := NewNodeflowServer(&mockEngine{}, nil, nil)

	res, err := s.handleHistory(context.Background(), newRequest("nodeflow.history", map[string]any{
		"limit": 10,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "run-1")
}

func TestScheduleAddTool(t *testing.T) {
	sched := &mockSchedules{}
	s := NewNodeflowServer(&mockEngine{}, sched, nil)

	res, err := s.handleScheduleAdd(context.Background(), newRequest("nodeflow.schedule_add", map[string]any{
		"id":       "nightly",
		"cron":     "0 3 * * *",
		"workflow": workflowArg(),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, []string{"nightly"}, sched.added)
}

func TestScheduleAddToolRequiresCron(t *testing.T) {
	sched := &mockSchedules{}
	s := NewNodeflowServer(&mockEngine{}, sched, nil)

	res, err := s.handleScheduleAdd(context.Background(), newRequest("nodeflow.schedule_add", map[string]any{
		"id":       "nightly",
		"workflow": workflowArg(),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, sched.added)
}

func TestScheduleAddToolReportsRejection(t *testing.T) {
	sched := &mockSchedules{addErr: schema.NewError(schema.ErrCodeConflict, "already exists")}
	s := NewNodeflowServer(&mockEngine{}, sched, nil)

	res, err := s.handleScheduleAdd(context.Background(), newRequest("nodeflow.schedule_add", map[string]any{
		"id":       "nightly",
		"cron":     "0 3 * * *",
		"workflow": workflowArg(),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestScheduleRemoveTool(t *testing.T) {
	sched := &mockSchedules{}
	s := NewNodeflowServer(&mockEngine{}, sched, nil)

	res, err := s.handleScheduleRemove(context.Background(), newRequest("nodeflow.schedule_remove", map[string]any{
		"id": "nightly",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, []string{"nightly"}, sched.removed)
}

func TestScheduleEnableTool(t *testing.T) {
	sched := &mockSchedules{}
	s := NewNodeflowServer(&mockEngine{}, sched, nil)

	res, err := s.handleScheduleEnable(context.Background(), newRequest("nodeflow.schedule_enable", map[string]any{
		"id":      "nightly",
		"enabled": false,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, map[string]bool{"nightly": false}, sched.enabled)
}

func TestScheduleListTool(t *testing.T) {
	sched := &mockSchedules{jobs: []scheduler.Job{{ID: "nightly", CronExpr: "0 3 * * *", Enabled: true}}}
	s := NewNodeflowServer(&mockEngine{}, sched, nil)

	res, err := s.handleScheduleList(context.Background(), newRequest("nodeflow.schedule_list", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "nightly")
}

func TestScheduleToolsOmittedWithoutScheduler(t *testing.T) {
	withSched := NewNodeflowServer(&mockEngine{}, &mockSchedules{}, nil)
	without := NewNodeflowServer(&mockEngine{}, nil, nil)

	assert.Len(t, withSched.tools(), 10)
	assert.Len(t, without.tools(), 6)
}
