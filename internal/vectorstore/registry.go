package vectorstore

import (
	"fmt"
	"sort"
)

// Registry maps backend-type strings to their adapter implementation.
// It is populated once at startup from configuration; no runtime mutation.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from the given backend-type mapping.
func NewRegistry(adapters map[string]Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for name, adapter := range adapters {
		m[name] = adapter
	}
	return &Registry{adapters: m}
}

// For resolves the adapter for an environment's backend type.
func (r *Registry) For(env *Env) (Adapter, error) {
	if env == nil {
		return nil, fmt.Errorf("no environment provided")
	}
	adapter, ok := r.adapters[env.Type]
	if !ok {
		return nil, fmt.Errorf("no vector store adapter registered for backend %q", env.Type)
	}
	return adapter, nil
}

// Backends returns the registered backend types, sorted.
func (r *Registry) Backends() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
