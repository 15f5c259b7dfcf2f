package executors

import (
	"sort"
	"sync"

	"github.com/kordes/nodeflow/pkg/schema"
)

// Registry is the thread-safe node type → executor mapping. It is
// constructed once at startup and injected into the graph executor; there is
// no package-global registry.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds an executor to the registry. Returns error on duplicate type.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	nodeType := e.Type()
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor node type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", nodeType)
	}

	r.executors[nodeType] = e
	return nil
}

// RegisterIfAbsent registers an executor only when its type is unclaimed.
// Returns false on collision; built-ins are never silently overwritten.
func (r *Registry) RegisterIfAbsent(e Executor) bool {
	if e == nil || e.Type() == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[e.Type()]; exists {
		return false
	}
	r.executors[e.Type()] = e
	return true
}

// Get retrieves an executor by node type.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[nodeType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node type %q not registered", nodeType)
	}
	return e, nil
}

// Has checks if a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// List returns all registered node types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
