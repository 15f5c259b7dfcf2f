package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kordes/nodeflow/pkg/schema"
)

// workflowFromRequest decodes the "workflow" argument. The second return is
// a ready error result when decoding fails.
func workflowFromRequest(req mcp.CallToolRequest) (schema.WorkflowDefinition, *mcp.CallToolResult) {
	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return schema.WorkflowDefinition{}, mcp.NewToolResultError("workflow is required")
	}

	defBytes, err := json.Marshal(raw)
	if err != nil {
		return schema.WorkflowDefinition{}, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(defBytes, &def); err != nil {
		return schema.WorkflowDefinition{}, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
	}
	return def, nil
}

// handleRun executes a workflow definition, blocking until it finishes, or
// enqueues it when queued=true.
func (s *NodeflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, errRes := workflowFromRequest(req)
	if errRes != nil {
		return errRes, nil
	}

	if req.GetBool("queued", false) {
		if err := s.engine.SubmitQueued(def); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("submission failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"ok": true, "workflow_id": def.ID, "queued": true})
	}

	snap, runErr := s.engine.Execute(ctx, def)
	if runErr != nil && snap.ID == "" {
		// rejected before any node ran
		return mcp.NewToolResultError(fmt.Sprintf("workflow rejected: %v", runErr)), nil
	}
	return marshalResult(snap)
}

func (s *NodeflowServer) handleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if err := s.engine.Stop(runID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stop failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "run_id": runID, "status": "stopping"})
}

func (s *NodeflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	snap, statusErr := s.engine.Status(runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(snap)
}

func (s *NodeflowServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"running": s.engine.ListRunning()})
}

func (s *NodeflowServer) handleMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.engine.Metrics())
}

func (s *NodeflowServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	return marshalResult(map[string]any{"history": s.engine.History(limit)})
}

func (s *NodeflowServer) handleScheduleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	def, errRes := workflowFromRequest(req)
	if errRes != nil {
		return errRes, nil
	}

	if err := s.schedules.Add(id, cronExpr, def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule rejected: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "id": id, "cron": cronExpr})
}

func (s *NodeflowServer) handleScheduleRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	if err := s.schedules.Remove(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("remove failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "id": id})
}

func (s *NodeflowServer) handleScheduleEnable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	enabled := req.GetBool("enabled", true)
	if err := s.schedules.SetEnabled(id, enabled); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "id": id, "enabled": enabled})
}

func (s *NodeflowServer) handleScheduleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"schedules": s.schedules.List()})
}

// marshalResult serializes v as an indented JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
