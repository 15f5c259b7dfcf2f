package executors

import (
	"context"

	"github.com/kordes/nodeflow/internal/expressions"
	"github.com/kordes/nodeflow/pkg/schema"
)

// conditionExecutor evaluates config.expression as a CEL expression against
// the node scope and branches on the "true" or "false" output port.
type conditionExecutor struct {
	engine *expressions.CELEngine
}

func (conditionExecutor) Type() string { return "Condition" }

func (e conditionExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	expression := stringParam(in.Node.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Condition requires config.expression")
	}

	out, err := e.engine.Evaluate(ctx, expression, in.Run.Scope(in.Inputs))
	if err != nil {
		return nil, err
	}

	port := "false"
	if truthy(out) {
		port = "true"
	}

	return schema.Branch(port, map[string]any{"result": out}), nil
}

// truthy applies simple JS-style coercion: condition evaluation is
// intentionally not a full rules engine.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
