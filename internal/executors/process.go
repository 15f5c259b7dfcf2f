package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kordes/nodeflow/pkg/schema"
)

const (
	defaultProcessTimeout = 30 * time.Second
	defaultMaxOutputSize  = 10 * 1024 * 1024 // 10MB
)

// ProcessConfig configures the Process executor.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	MaxOutputSize  int64
}

// processExecutor spawns a system command, capturing stdout, stderr, and the
// exit code. The command runs in the run workspace unless config.cwd
// overrides it, and is killed when the node context ends — a stopped or
// timed-out run does not leak child processes.
type processExecutor struct {
	cfg ProcessConfig
}

func newProcessExecutor(cfg ProcessConfig) processExecutor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultProcessTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	return processExecutor{cfg: cfg}
}

func (processExecutor) Type() string { return "Process" }

func (e processExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	command := stringParam(in.Node.Config, "command", "")
	if command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Process requires config.command")
	}
	args := stringSliceParam(in.Node.Config, "args")
	envMap := stringMapParam(in.Node.Config, "env")
	shellMode := boolParam(in.Node.Config, "shell", false)
	timeout := durationParam(in.Node.Config, "timeout", e.cfg.DefaultTimeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if shellMode {
		fullCmd := command
		if len(args) > 0 {
			fullCmd = command + " " + strings.Join(args, " ")
		}
		cmd = exec.CommandContext(execCtx, "/bin/sh", "-c", fullCmd)
	} else {
		cmd = exec.CommandContext(execCtx, command, args...)
	}

	cwd := stringParam(in.Node.Config, "cwd", "")
	if cwd == "" {
		cwd = in.Run.WorkspaceDir()
	}
	cmd.Dir = cwd

	if envMap != nil {
		cmd.Env = os.Environ()
		for k, v := range envMap {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	// stdin: the "stdin" input wins over config.stdin.
	stdin := stringParam(in.Node.Config, "stdin", "")
	if v, ok := in.Inputs["stdin"]; ok {
		if s, ok := v.(string); ok {
			stdin = s
		}
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: e.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: e.cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "Process: %s", runErr.Error()).WithCause(runErr)
		}
	}
	killed := execCtx.Err() == context.DeadlineExceeded

	// Auto-parse stdout when it is valid JSON, mirroring HttpRequest bodies.
	stdoutStr := stdoutBuf.String()
	var parsedStdout any = stdoutStr
	if stdoutBuf.Len() > 0 && json.Valid(stdoutBuf.Bytes()) {
		var parsed any
		if err := json.Unmarshal(stdoutBuf.Bytes(), &parsed); err == nil {
			parsedStdout = parsed
		}
	}

	payload := map[string]any{
		"stdout":     parsedStdout,
		"stdoutRaw":  stdoutStr,
		"stderr":     stderrBuf.String(),
		"exitCode":   exitCode,
		"durationMs": durationMs,
		"killed":     killed,
	}

	if exitCode != 0 {
		if boolParam(in.Node.Config, "continueOnError", false) {
			return schema.Branch("error", map[string]any{"error": payload}), nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"Process: command exited with code %d", exitCode).
			WithDetails(payload)
	}

	return schema.Branch("stdout", map[string]any{"stdout": payload}), nil
}

// limitedWriter silently discards bytes beyond the limit. Write always
// reports the full len(p) consumed so the subprocess never blocks on a full
// pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
