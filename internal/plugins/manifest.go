// Package plugins discovers node-type plugins from JSON manifests and
// registers subprocess-backed executors for them.
package plugins

import (
	"fmt"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kordes/nodeflow/pkg/schema"
)

// Manifest describes one plugin node type: how to launch its subprocess and
// which ports the type exposes.
type Manifest struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`
	Ports       ManifestPorts     `json:"ports,omitempty"`
}

// ManifestPorts names the plugin node type's positional ports.
type ManifestPorts struct {
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nodeflow.dev/schemas/plugin-manifest.json",
  "type": "object",
  "required": ["type", "command"],
  "properties": {
    "type": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "command": { "type": "string", "minLength": 1 },
    "args": { "type": "array", "items": { "type": "string" } },
    "env": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "timeout": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "ports": {
      "type": "object",
      "properties": {
        "inputs": { "type": "array", "items": { "type": "string" } },
        "outputs": { "type": "array", "items": { "type": "string" } }
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

const manifestSchemaURL = "https://nodeflow.dev/schemas/plugin-manifest.json"

func compileManifestSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal manifest schema: %w", err)
	}
	if err := c.AddResource(manifestSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add manifest schema resource: %w", err)
	}
	return c.Compile(manifestSchemaURL)
}

// timeout parses the manifest timeout, defaulting to 30s.
func (m Manifest) timeout() time.Duration {
	if m.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(m.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (m Manifest) validate() error {
	if m.Type == "" {
		return schema.NewError(schema.ErrCodePluginLoad, "manifest missing node type")
	}
	if m.Command == "" {
		return schema.NewErrorf(schema.ErrCodePluginLoad, "manifest for %q missing command", m.Type)
	}
	return nil
}
