package plugins

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kordes/nodeflow/internal/executors"
	"github.com/kordes/nodeflow/internal/ports"
	"github.com/kordes/nodeflow/pkg/schema"
)

// Loader scans a directory for plugin manifests and registers their node
// types. A malformed or colliding manifest is logged and skipped; plugin
// loading never crashes the engine.
type Loader struct {
	execReg  *executors.Registry
	portReg  *ports.Registry
	compiled *jsonschema.Schema
	logger   *slog.Logger
}

// NewLoader builds a Loader registering into the given registries.
func NewLoader(execReg *executors.Registry, portReg *ports.Registry, logger *slog.Logger) (*Loader, error) {
	compiled, err := compileManifestSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{execReg: execReg, portReg: portReg, compiled: compiled, logger: logger}, nil
}

// LoadDir discovers *.json manifests under dir and registers each valid one.
// Returns the number of node types registered. A missing directory is not an
// error: plugins are optional.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, schema.NewErrorf(schema.ErrCodePluginLoad, "read plugin directory %q", dir).WithCause(err)
	}

	loaded := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := l.loadManifest(path); err != nil {
			l.logger.Warn("plugin manifest skipped", "path", path, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// loadManifest parses, validates, and registers a single manifest file.
func (l *Loader) loadManifest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return schema.NewError(schema.ErrCodePluginLoad, "read manifest").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodePluginLoad, "manifest is not valid JSON").WithCause(err)
	}
	if err := l.compiled.Validate(doc); err != nil {
		return schema.NewError(schema.ErrCodePluginLoad, "manifest failed schema validation").WithCause(err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return schema.NewError(schema.ErrCodePluginLoad, "decode manifest").WithCause(err)
	}
	if err := m.validate(); err != nil {
		return err
	}

	exec := &pluginExecutor{manifest: m, logger: l.logger}
	if !l.execReg.RegisterIfAbsent(exec) {
		return schema.NewErrorf(schema.ErrCodePluginLoad,
			"node type %q already registered, plugin ignored", m.Type)
	}

	if len(m.Ports.Inputs) > 0 || len(m.Ports.Outputs) > 0 {
		l.portReg.Define(m.Type, ports.PortMap{
			Inputs:  m.Ports.Inputs,
			Outputs: m.Ports.Outputs,
		})
	}

	l.logger.Info("plugin node type registered", "type", m.Type, "command", m.Command)
	return nil
}
