package schema

// Result is the tagged outcome an executor returns. It replaces the loose
// convention of magic fields on an untyped result object with three
// compile-time-checkable shapes:
//
//	Continue(outputs)     — store outputs, traverse all outgoing connections
//	Branch(port, outputs) — store outputs, traverse only the named output port
//	Handled(outputs)      — store outputs, suppress automatic traversal
type Result struct {
	kind    resultKind
	port    string
	outputs map[string]any
}

type resultKind int

const (
	kindContinue resultKind = iota
	kindBranch
	kindHandled
)

// Continue yields outputs and lets traversal follow every outgoing connection.
func Continue(outputs map[string]any) *Result {
	return &Result{kind: kindContinue, outputs: outputs}
}

// Branch yields outputs and restricts traversal to connections whose source
// port resolves to the given name.
func Branch(port string, outputs map[string]any) *Result {
	return &Result{kind: kindBranch, port: port, outputs: outputs}
}

// Handled yields outputs and suppresses all automatic downstream traversal.
// The executor is responsible for any further graph continuation.
func Handled(outputs map[string]any) *Result {
	return &Result{kind: kindHandled, outputs: outputs}
}

// Outputs returns the named output values, never nil.
func (r *Result) Outputs() map[string]any {
	if r == nil || r.outputs == nil {
		return map[string]any{}
	}
	return r.outputs
}

// BranchPort returns the selected branch port name, if any.
func (r *Result) BranchPort() (string, bool) {
	if r == nil || r.kind != kindBranch {
		return "", false
	}
	return r.port, true
}

// SuppressTraversal reports whether automatic traversal is disabled.
func (r *Result) SuppressTraversal() bool {
	return r != nil && r.kind == kindHandled
}
