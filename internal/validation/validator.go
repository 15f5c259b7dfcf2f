package validation

import (
	"log/slog"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kordes/nodeflow/pkg/schema"
)

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node/connection references, single Start, known types)
// 3. Graph (cycles are errors, unreachable nodes are logged warnings)
type WorkflowValidator struct {
	compiled *jsonschema.Schema
	types    TypeLookup
	logger   *slog.Logger
}

// NewWorkflowValidator creates a WorkflowValidator. types may be nil to skip
// executor existence checks.
func NewWorkflowValidator(types TypeLookup, logger *slog.Logger) (*WorkflowValidator, error) {
	compiled, err := compileWorkflowSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowValidator{compiled: compiled, types: types, logger: logger}, nil
}

// Validate runs the full pipeline. Stages short-circuit: a structural error
// skips semantic and graph analysis.
func (v *WorkflowValidator) Validate(def schema.WorkflowDefinition) error {
	if err := validateStructural(v.compiled, def); err != nil {
		return err
	}
	if err := validateSemantic(def, v.types); err != nil {
		return err
	}
	warnings, err := validateGraph(def)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		v.logger.Warn("workflow validation warning", "workflow_id", def.ID, "warning", w)
	}
	return nil
}
