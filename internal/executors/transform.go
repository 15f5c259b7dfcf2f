package executors

import (
	"context"

	"github.com/kordes/nodeflow/internal/expressions"
	"github.com/kordes/nodeflow/pkg/schema"
)

// transformExecutor applies a jq program (config.expression) to the node
// scope and yields the reshaped value on the "result" port.
type transformExecutor struct {
	engine *expressions.GoJQEngine
}

func (transformExecutor) Type() string { return "Transform" }

func (e transformExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	expression := stringParam(in.Node.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Transform requires config.expression")
	}

	out, err := e.engine.Evaluate(ctx, expression, in.Run.Scope(in.Inputs))
	if err != nil {
		return nil, err
	}

	return schema.Continue(map[string]any{"result": out}), nil
}
