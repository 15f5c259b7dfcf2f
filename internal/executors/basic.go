package executors

import (
	"context"
	"log/slog"
	"time"

	"github.com/kordes/nodeflow/pkg/schema"
)

// --- Start ---

type startExecutor struct{}

func (startExecutor) Type() string { return "Start" }

func (startExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	return schema.Continue(map[string]any{
		"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}), nil
}

// --- End ---

type endExecutor struct{}

func (endExecutor) Type() string { return "End" }

func (endExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	// Terminal marker. Outgoing connections are unusual but legal.
	return schema.Continue(map[string]any{"done": true}), nil
}

// --- Delay ---

const defaultDelay = time.Second

type delayExecutor struct{}

func (delayExecutor) Type() string { return "Delay" }

// Execute sleeps for config.duration (duration string) or config.delayMs
// (milliseconds), whichever is present, respecting cancellation.
func (delayExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	d := durationParam(in.Node.Config, "duration", 0)
	if d == 0 {
		if ms := intParam(in.Node.Config, "delayMs", 0); ms > 0 {
			d = time.Duration(ms) * time.Millisecond
		}
	}
	if d <= 0 {
		d = defaultDelay
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "delay interrupted").WithCause(ctx.Err())
	}

	return schema.Continue(map[string]any{"delayedMs": d.Milliseconds()}), nil
}

// --- Log ---

type logExecutor struct {
	logger *slog.Logger
}

func (logExecutor) Type() string { return "Log" }

func (e logExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	message := stringParam(in.Node.Config, "message", "")
	if v, ok := in.Inputs["message"]; ok {
		if s, ok := v.(string); ok && s != "" {
			message = s
		}
	}

	level := slog.LevelInfo
	switch stringParam(in.Node.Config, "level", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	e.logger.Log(ctx, level, message, slog.String("node_id", in.Node.ID))
	return schema.Continue(map[string]any{"message": message}), nil
}

// --- SetVariable ---

type setVariableExecutor struct{}

func (setVariableExecutor) Type() string { return "SetVariable" }

func (setVariableExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	name := stringParam(in.Node.Config, "name", "")
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "SetVariable requires config.name")
	}

	value, ok := in.Inputs["value"]
	if !ok {
		value = in.Node.Config["value"]
	}

	in.Run.SetVariable(name, value)
	return schema.Continue(map[string]any{"name": name, "value": value}), nil
}
