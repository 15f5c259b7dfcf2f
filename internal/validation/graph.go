package validation

import (
	"sort"

	"github.com/kordes/nodeflow/pkg/schema"
)

// validateGraph runs cycle detection (Kahn's algorithm) over the connection
// graph and returns warnings for nodes unreachable from the Start node.
// Cycles are hard errors: traversal would recurse forever.
func validateGraph(def schema.WorkflowDefinition) (warnings []string, err error) {
	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	// successors[id] = downstream node IDs, dedup parallel edges
	successors := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	seenEdge := make(map[[2]string]bool, len(def.Connections))
	for _, c := range def.Connections {
		edge := [2]string{c.From.NodeID, c.To.NodeID}
		if seenEdge[edge] || !nodeIDs[c.From.NodeID] || !nodeIDs[c.To.NodeID] {
			continue
		}
		seenEdge[edge] = true
		successors[c.From.NodeID] = append(successors[c.From.NodeID], c.To.NodeID)
		inDegree[c.To.NodeID]++
	}

	queue := make([]string, 0, len(def.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range successors[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(nodeIDs) {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow contains a connection cycle")
	}

	// Reachability: BFS from the Start node.
	var startID string
	for _, n := range def.Nodes {
		if n.Type == schema.StartNodeType {
			startID = n.ID
			break
		}
	}
	reachable := map[string]bool{startID: true}
	bfs := []string{startID}
	for len(bfs) > 0 {
		id := bfs[0]
		bfs = bfs[1:]
		for _, next := range successors[id] {
			if !reachable[next] {
				reachable[next] = true
				bfs = append(bfs, next)
			}
		}
	}

	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			warnings = append(warnings, "node "+n.ID+" is unreachable from the Start node")
		}
	}
	return warnings, nil
}
