package executors

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kordes/nodeflow/pkg/schema"
)

// Relative paths in FileRead/FileWrite resolve against the run workspace, so
// graphs can pass scratch files between nodes without knowing where the
// engine puts them.

func resolvePath(run RunContext, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(run.WorkspaceDir(), path)
}

// --- FileRead ---

type fileReadExecutor struct{}

func (fileReadExecutor) Type() string { return "FileRead" }

func (fileReadExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	path := stringParam(in.Node.Config, "path", "")
	if v, ok := in.Inputs["path"]; ok {
		if s, ok := v.(string); ok && s != "" {
			path = s
		}
	}
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "FileRead requires a path (config.path or the path input)")
	}

	abs := resolvePath(in.Run, path)
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "FileRead: %s", err.Error()).WithCause(err)
	}

	var content any = string(raw)
	if boolParam(in.Node.Config, "parseJson", false) && json.Valid(raw) {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			content = parsed
		}
	}

	return schema.Continue(map[string]any{
		"content": content,
		"path":    abs,
		"size":    len(raw),
	}), nil
}

// --- FileWrite ---

type fileWriteExecutor struct{}

func (fileWriteExecutor) Type() string { return "FileWrite" }

func (fileWriteExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	path := stringParam(in.Node.Config, "path", "")
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "FileWrite requires config.path")
	}

	content, ok := in.Inputs["content"]
	if !ok {
		content = in.Node.Config["content"]
	}

	var data []byte
	switch c := content.(type) {
	case nil:
	case string:
		data = []byte(c)
	case []byte:
		data = c
	default:
		encoded, err := json.Marshal(c)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "FileWrite: encode content: %s", err.Error()).WithCause(err)
		}
		data = encoded
	}

	abs := resolvePath(in.Run, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "FileWrite: %s", err.Error()).WithCause(err)
	}

	if boolParam(in.Node.Config, "append", false) {
		f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "FileWrite: %s", err.Error()).WithCause(err)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "FileWrite: %s", err.Error()).WithCause(err)
		}
	} else if err := os.WriteFile(abs, data, 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "FileWrite: %s", err.Error()).WithCause(err)
	}

	return schema.Continue(map[string]any{
		"path":         abs,
		"bytesWritten": len(data),
	}), nil
}
