package validation

import (
	"fmt"

	"github.com/kordes/nodeflow/pkg/schema"
)

// TypeLookup reports whether a node type has a registered executor.
// nil lookups skip the check (types may be registered later by plugins).
type TypeLookup interface {
	Has(nodeType string) bool
}

// validateSemantic checks cross-references the JSON Schema cannot express:
// duplicate node and connection IDs, connection endpoints, the single-Start
// rule, and executor existence per node type.
func validateSemantic(def schema.WorkflowDefinition, types TypeLookup) error {
	nodeIDs := make(map[string]string, len(def.Nodes))
	startCount := 0

	for _, n := range def.Nodes {
		if _, dup := nodeIDs[n.ID]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
		}
		nodeIDs[n.ID] = n.Type
		if n.Type == schema.StartNodeType {
			startCount++
		}
		if types != nil && !types.Has(n.Type) {
			return schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", n.Type).WithNode(n.ID)
		}
	}

	if startCount != 1 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"workflow must contain exactly one %s node, found %d", schema.StartNodeType, startCount)
	}

	connIDs := make(map[string]struct{}, len(def.Connections))
	for _, c := range def.Connections {
		if _, dup := connIDs[c.ID]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate connection id %q", c.ID)
		}
		connIDs[c.ID] = struct{}{}

		if _, ok := nodeIDs[c.From.NodeID]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"connection %q references unknown source node %q", c.ID, c.From.NodeID)
		}
		if _, ok := nodeIDs[c.To.NodeID]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"connection %q references unknown target node %q", c.ID, c.To.NodeID)
		}
		if c.From.NodeID == c.To.NodeID {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"connection %q is a self-loop on node %q", c.ID, c.From.NodeID)
		}
		if nodeIDs[c.To.NodeID] == schema.StartNodeType {
			return schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("connection %q targets the %s node", c.ID, schema.StartNodeType))
		}
	}

	return nil
}
