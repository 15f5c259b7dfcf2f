package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithWorkflowID(context.Background(), "wf-123")
	ctx = WithNodeID(ctx, "node-7")
	logger.InfoContext(ctx, "node started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "wf-123", rec["workflow_id"])
	assert.Equal(t, "node-7", rec["node_id"])
	assert.Equal(t, "node started", rec["msg"])
}

func TestCorrelationHandlerWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	_, hasWF := rec["workflow_id"]
	_, hasNode := rec["node_id"]
	assert.False(t, hasWF)
	assert.False(t, hasNode)
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, WorkflowID(ctx))
	assert.Empty(t, NodeID(ctx))

	ctx = WithWorkflowID(ctx, "wf")
	ctx = WithNodeID(ctx, "n1")
	assert.Equal(t, "wf", WorkflowID(ctx))
	assert.Equal(t, "n1", NodeID(ctx))
}
