package engine

import (
	"github.com/kordes/nodeflow/internal/ports"
	"github.com/kordes/nodeflow/pkg/schema"
)

// resolveInputs computes a node's named input map by walking incoming
// connections and pulling values out of already-computed upstream results.
//
// Per connection: a missing upstream value is skipped silently (a well-formed
// DAG executed in order never hits this, but the resolver must not fail).
// Control-flow-only source ports carry no data and are skipped entirely.
// Otherwise the upstream outputs are probed for the source port's name; if
// absent, the whole output object flows through. Later connections targeting
// the same input port overwrite earlier ones, in connection array order.
func resolveInputs(node schema.NodeDefinition, run *WorkflowRun, portReg *ports.Registry) map[string]any {
	inputs := make(map[string]any)

	for _, conn := range run.Connections {
		if conn.To.NodeID != node.ID {
			continue
		}

		upstreamValue, ok := run.Value(conn.From.NodeID)
		if !ok {
			continue
		}

		upstream, ok := run.NodeByID(conn.From.NodeID)
		if !ok {
			continue
		}

		outPort := portReg.OutputName(upstream.Type, conn.From.PortIndex)
		if portReg.IsControlFlowOutput(outPort) {
			continue
		}

		value := upstreamValue
		if m, ok := upstreamValue.(map[string]any); ok {
			if v, present := m[outPort]; present {
				value = v
			}
		}

		inPort := portReg.InputName(node.Type, conn.To.PortIndex)
		inputs[inPort] = value
	}

	return inputs
}
