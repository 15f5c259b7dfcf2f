package executors

import (
	"log/slog"

	"github.com/kordes/nodeflow/internal/expressions"
)

// BuiltinConfig bundles the per-concern configs for the built-in node set.
type BuiltinConfig struct {
	HTTP    HTTPConfig
	Process ProcessConfig
	SQL     SQLConfig
	Logger  *slog.Logger
}

// RegisterBuiltins registers all built-in node executors in the given
// registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	all := []Executor{
		startExecutor{},
		endExecutor{},
		delayExecutor{},
		logExecutor{logger: logger},
		setVariableExecutor{},
		conditionExecutor{engine: celEngine},
		expressionExecutor{engine: expressions.NewExprEngine()},
		transformExecutor{engine: expressions.NewGoJQEngine()},
		newHTTPRequestExecutor(cfg.HTTP),
		newProcessExecutor(cfg.Process),
		fileReadExecutor{},
		fileWriteExecutor{},
		sqlQueryExecutor{cfg: cfg.SQL},
		loopExecutor{},
	}

	for _, e := range all {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
