package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cinder-ai/cinder/internal/observability"
)

// MaxToolNameLength bounds registered tool names.
const MaxToolNameLength = 256

// LLMToolSchema is the shape handed to the streaming client for native
// function calling. Names match what the tool-call parser recognizes.
type LLMToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry maps tool names to specs. Registration is restricted to setup
// time by convention; lookups afterwards are read-mostly.
type Registry struct {
	logger *observability.Logger

	mu    sync.RWMutex
	specs map[string]*Spec
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger) *Registry {
	return &Registry{
		logger: logger,
		specs:  make(map[string]*Spec),
	}
}

// Register adds a tool. A duplicate name replaces the prior entry but keeps
// its position in the listing order. A spec that fails validation is
// rejected without affecting the rest of the registry.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("tool spec is nil")
	}
	if spec.Name == "" || len(spec.Name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", spec.Name)
	}
	if spec.Runner == nil {
		return fmt.Errorf("tool %s has no runner", spec.Name)
	}
	if err := spec.compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	} else if r.logger != nil {
		r.logger.Warn(context.Background(), "tool replaced", "tool", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List enumerates tool names in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SchemasForLLM emits the tool schema list for the streaming client.
func (r *Registry) SchemasForLLM() []LLMToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LLMToolSchema, 0, len(r.order))
	for _, name := range r.order {
		spec := r.specs[name]
		out = append(out, LLMToolSchema{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.SchemaJSON(),
		})
	}
	return out
}

// SideEffecting reports whether a tool is flagged as side-effecting.
// Unknown tools are treated as side-effecting.
func (r *Registry) SideEffecting(name string) bool {
	spec, ok := r.Get(name)
	if !ok {
		return true
	}
	return spec.SideEffecting
}
