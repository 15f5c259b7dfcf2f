package executors

import (
	"context"

	"github.com/kordes/nodeflow/internal/expressions"
	"github.com/kordes/nodeflow/pkg/schema"
)

// expressionExecutor evaluates config.expression with expr-lang against the
// node scope and yields the value on the "result" port.
type expressionExecutor struct {
	engine *expressions.ExprEngine
}

func (expressionExecutor) Type() string { return "Expression" }

func (e expressionExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	expression := stringParam(in.Node.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Expression requires config.expression")
	}

	out, err := e.engine.Evaluate(ctx, expression, in.Run.Scope(in.Inputs))
	if err != nil {
		return nil, err
	}

	return schema.Continue(map[string]any{"result": out}), nil
}
