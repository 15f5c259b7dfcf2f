// Package ports maps node types to named input and output ports.
// Connections address ports positionally; this table translates positions
// into semantic names and marks which output ports are control-flow-only.
package ports

import "fmt"

// PortMap lists a node type's named ports indexed by positional index.
type PortMap struct {
	Inputs  []string
	Outputs []string
}

// Registry is the static node-type → PortMap lookup table. It is built once
// at startup and injected wherever port resolution is needed.
type Registry struct {
	types       map[string]PortMap
	controlFlow map[string]struct{}
}

// controlFlowOutputPorts never carry data. Their presence only signals
// "proceed on this branch"; the input resolver skips them entirely.
var controlFlowOutputPorts = []string{"main", "completed"}

// NewRegistry builds the registry seeded with the built-in node types.
func NewRegistry() *Registry {
	r := &Registry{
		types:       make(map[string]PortMap),
		controlFlow: make(map[string]struct{}, len(controlFlowOutputPorts)),
	}
	for _, p := range controlFlowOutputPorts {
		r.controlFlow[p] = struct{}{}
	}

	r.types["Start"] = PortMap{Outputs: []string{"main"}}
	r.types["End"] = PortMap{Inputs: []string{"main"}}
	r.types["Delay"] = PortMap{Inputs: []string{"main"}, Outputs: []string{"main"}}
	r.types["Log"] = PortMap{Inputs: []string{"message"}, Outputs: []string{"main"}}
	r.types["SetVariable"] = PortMap{Inputs: []string{"value"}, Outputs: []string{"main"}}
	r.types["Condition"] = PortMap{Inputs: []string{"value"}, Outputs: []string{"true", "false"}}
	r.types["Expression"] = PortMap{Inputs: []string{"value"}, Outputs: []string{"result"}}
	r.types["Transform"] = PortMap{Inputs: []string{"value"}, Outputs: []string{"result"}}
	r.types["HttpRequest"] = PortMap{Inputs: []string{"body"}, Outputs: []string{"response", "error"}}
	r.types["Process"] = PortMap{Inputs: []string{"stdin"}, Outputs: []string{"stdout", "error"}}
	r.types["FileRead"] = PortMap{Inputs: []string{"path"}, Outputs: []string{"content"}}
	r.types["FileWrite"] = PortMap{Inputs: []string{"content"}, Outputs: []string{"main"}}
	r.types["SqlQuery"] = PortMap{Inputs: []string{"params"}, Outputs: []string{"rows"}}
	r.types["Loop"] = PortMap{Inputs: []string{"items"}, Outputs: []string{"loop", "completed"}}

	return r
}

// Define adds or replaces the port map for a node type. Plugin node types
// register their ports here alongside their executors.
func (r *Registry) Define(nodeType string, pm PortMap) {
	r.types[nodeType] = pm
}

// PortsFor returns the PortMap for a node type. ok is false for unknown
// types; callers must then fall back to positional names.
func (r *Registry) PortsFor(nodeType string) (PortMap, bool) {
	pm, ok := r.types[nodeType]
	return pm, ok
}

// InputName resolves a positional input index to its port name, falling back
// to "input_N" for unknown types or out-of-range indexes.
func (r *Registry) InputName(nodeType string, index int) string {
	if pm, ok := r.types[nodeType]; ok && index >= 0 && index < len(pm.Inputs) {
		return pm.Inputs[index]
	}
	return fmt.Sprintf("input_%d", index)
}

// OutputName resolves a positional output index to its port name, falling
// back to "output_N" for unknown types or out-of-range indexes.
func (r *Registry) OutputName(nodeType string, index int) string {
	if pm, ok := r.types[nodeType]; ok && index >= 0 && index < len(pm.Outputs) {
		return pm.Outputs[index]
	}
	return fmt.Sprintf("output_%d", index)
}

// IsControlFlowOutput reports whether the named output port is
// control-flow-only and must be excluded from data propagation.
func (r *Registry) IsControlFlowOutput(port string) bool {
	_, ok := r.controlFlow[port]
	return ok
}
