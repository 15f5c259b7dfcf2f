// Package mcp exposes the workflow engine as MCP tools over stdio, so agent
// clients can run, inspect, and stop workflows.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kordes/nodeflow/internal/engine"
	"github.com/kordes/nodeflow/internal/metrics"
	"github.com/kordes/nodeflow/internal/scheduler"
	"github.com/kordes/nodeflow/pkg/schema"
)

// Engine is the subset of engine.Manager the MCP surface needs.
type Engine interface {
	Execute(ctx context.Context, def schema.WorkflowDefinition) (engine.RunSnapshot, error)
	SubmitQueued(def schema.WorkflowDefinition) error
	Stop(runID string) error
	Status(runID string) (engine.RunSnapshot, error)
	ListRunning() []engine.RunSnapshot
	Metrics() metrics.Snapshot
	History(limit int) []metrics.HistoryEntry
}

// Schedules is the subset of scheduler.Scheduler the MCP surface needs.
type Schedules interface {
	Add(id, cronExpr string, def schema.WorkflowDefinition) error
	Remove(id string) error
	SetEnabled(id string, enabled bool) error
	List() []scheduler.Job
}

// NodeflowServer wraps an MCP server with workflow tool handlers.
type NodeflowServer struct {
	engine    Engine
	schedules Schedules
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewNodeflowServer creates a server with all workflow tools registered.
// schedules may be nil, which omits the schedule management tools.
func NewNodeflowServer(eng Engine, schedules Schedules, logger *slog.Logger) *NodeflowServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &NodeflowServer{engine: eng, schedules: schedules, logger: logger}

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Nodeflow executes node-graph workflows. Use nodeflow.run to execute a workflow definition, nodeflow.status and nodeflow.list to inspect running workflows, nodeflow.stop to cancel one, nodeflow.metrics / nodeflow.history for aggregate results, and the nodeflow.schedule_* tools to manage cron schedules."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *NodeflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *NodeflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *NodeflowServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: metricsTool(), Handler: s.handleMetrics},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
	if s.schedules != nil {
		tools = append(tools,
			server.ServerTool{Tool: scheduleAddTool(), Handler: s.handleScheduleAdd},
			server.ServerTool{Tool: scheduleRemoveTool(), Handler: s.handleScheduleRemove},
			server.ServerTool{Tool: scheduleEnableTool(), Handler: s.handleScheduleEnable},
			server.ServerTool{Tool: scheduleListTool(), Handler: s.handleScheduleList},
		)
	}
	return tools
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("nodeflow.run",
		mcp.WithDescription("Execute a workflow definition (nodes + connections) to completion"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition: {id, name, nodes, connections}")),
		mcp.WithBoolean("queued", mcp.Description("Queue instead of failing when the engine is at capacity")),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("nodeflow.stop",
		mcp.WithDescription("Request cooperative cancellation of a running workflow"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to stop")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("nodeflow.status",
		mcp.WithDescription("Get the state of a running workflow, including per-node states"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("nodeflow.list",
		mcp.WithDescription("List all currently running workflows"),
	)
}

func metricsTool() mcp.Tool {
	return mcp.NewTool("nodeflow.metrics",
		mcp.WithDescription("Get aggregate execution counters: totals, outcomes, average duration, error codes"),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("nodeflow.history",
		mcp.WithDescription("Get recent finished runs, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default: all retained)")),
	)
}

func scheduleAddTool() mcp.Tool {
	return mcp.NewTool("nodeflow.schedule_add",
		mcp.WithDescription("Register a cron schedule that submits a workflow on each due tick"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Unique schedule identifier")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Five-field cron expression, e.g. \"*/5 * * * *\"")),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition to submit on schedule")),
	)
}

func scheduleRemoveTool() mcp.Tool {
	return mcp.NewTool("nodeflow.schedule_remove",
		mcp.WithDescription("Unregister a cron schedule"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Schedule identifier")),
	)
}

func scheduleEnableTool() mcp.Tool {
	return mcp.NewTool("nodeflow.schedule_enable",
		mcp.WithDescription("Enable or disable a cron schedule without removing it"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Schedule identifier")),
		mcp.WithBoolean("enabled", mcp.Description("Whether the schedule fires (default: true)")),
	)
}

func scheduleListTool() mcp.Tool {
	return mcp.NewTool("nodeflow.schedule_list",
		mcp.WithDescription("List all registered cron schedules with their next run times"),
	)
}
