package plugins

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"

	"github.com/kordes/nodeflow/internal/executors"
	"github.com/kordes/nodeflow/pkg/schema"
)

// pluginRequest is the single JSON line written to the plugin's stdin.
type pluginRequest struct {
	RunID  string                `json:"run_id"`
	Node   schema.NodeDefinition `json:"node"`
	Inputs map[string]any        `json:"inputs"`
}

// pluginResponse is the single JSON line the plugin writes to stdout.
// port selects a branch; handled suppresses automatic traversal.
type pluginResponse struct {
	Outputs map[string]any `json:"outputs,omitempty"`
	Port    string         `json:"port,omitempty"`
	Handled bool           `json:"handled,omitempty"`
	Error   string         `json:"error,omitempty"`
}

const maxResponseLine = 4 << 20 // 4 MiB

// pluginExecutor runs a manifest's command once per node execution, speaking
// one JSON request line on stdin and one JSON response line on stdout.
type pluginExecutor struct {
	manifest Manifest
	logger   *slog.Logger
}

func (p *pluginExecutor) Type() string { return p.manifest.Type }

func (p *pluginExecutor) Execute(ctx context.Context, in executors.ExecInput) (*schema.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.manifest.timeout())
	defer cancel()

	req, err := json.Marshal(pluginRequest{
		RunID:  in.Run.RunID(),
		Node:   in.Node,
		Inputs: in.Inputs,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeNodeExecution, "encode plugin request").WithCause(err)
	}
	req = append(req, '\n')

	cmd := exec.CommandContext(execCtx, p.manifest.Command, p.manifest.Args...)
	cmd.Dir = in.Run.WorkspaceDir()
	cmd.Env = os.Environ()
	for k, v := range p.manifest.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(req)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"plugin %q exceeded its timeout", p.manifest.Type).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"plugin %q failed: %s", p.manifest.Type, firstLine(stderr.Bytes())).WithCause(err)
	}

	resp, err := decodeResponse(stdout.Bytes())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"plugin %q returned an unreadable response", p.manifest.Type).WithCause(err)
	}
	if resp.Error != "" {
		return nil, schema.NewError(schema.ErrCodeNodeExecution, resp.Error)
	}

	switch {
	case resp.Handled:
		return schema.Handled(resp.Outputs), nil
	case resp.Port != "":
		return schema.Branch(resp.Port, resp.Outputs), nil
	default:
		return schema.Continue(resp.Outputs), nil
	}
}

// decodeResponse parses the first non-empty stdout line as a pluginResponse.
func decodeResponse(out []byte) (pluginResponse, error) {
	var resp pluginResponse
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return resp, json.Unmarshal(line, &resp)
	}
	if err := scanner.Err(); err != nil {
		return resp, err
	}
	return resp, schema.NewError(schema.ErrCodeNodeExecution, "plugin produced no output")
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
