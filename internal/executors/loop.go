package executors

import (
	"context"

	"github.com/kordes/nodeflow/pkg/schema"
)

const defaultMaxIterations = 1000

// loopExecutor repeats its "loop" branch once per iteration, driving the
// traversal itself, then branches to "completed". Iterations come from the
// "items" input (one per element, exposed as the item/index variables) or
// from config.count.
type loopExecutor struct{}

func (loopExecutor) Type() string { return "Loop" }

func (loopExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	itemVar := stringParam(in.Node.Config, "itemVariable", "item")
	indexVar := stringParam(in.Node.Config, "indexVariable", "index")

	var items []any
	if v, ok := in.Inputs["items"]; ok {
		if arr, ok := v.([]any); ok {
			items = arr
		}
	}

	count := len(items)
	if count == 0 {
		count = intParam(in.Node.Config, "count", 0)
	}
	if count <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "Loop requires a non-empty items input or config.count > 0")
	}
	maxIter := intParam(in.Node.Config, "maxIterations", defaultMaxIterations)
	if count > maxIter {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "Loop count %d exceeds maxIterations %d", count, maxIter)
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "loop interrupted").WithCause(err)
		}

		in.Run.SetVariable(indexVar, i)
		if items != nil {
			in.Run.SetVariable(itemVar, items[i])
		}

		if err := in.Run.TraverseBranch(ctx, "loop"); err != nil {
			return nil, err
		}
	}

	// Normal traversal takes over for the completed branch.
	return schema.Branch("completed", map[string]any{"iterations": count}), nil
}
