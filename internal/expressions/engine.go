package expressions

import "context"

// Engine evaluates expressions against a node's resolved scope.
// Three implementations: CEL (conditions), Expr (logic), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Scope variable names exposed to every engine. inputs holds the node's
// resolved named inputs, values the per-node results accumulated so far,
// variables the run's mutable variable map, and run metadata about the run.
var scopeKeys = []string{"inputs", "values", "variables", "run"}
