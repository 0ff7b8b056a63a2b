package agent

import (
	"context"
	"sync"

	"github.com/bernardlabs/bernard/llm"
)

// RespondSignalName is the reserved tool name the model may use to signal
// it is ready to answer. It is a loop-control transition, never a real
// tool, so the registry refuses to register it.
const RespondSignalName = "respond"

// HandlerFunc executes a tool against parsed arguments.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// Descriptor pairs a tool's advertised metadata with its handler.
// Descriptors are built once at startup and never mutated afterwards.
type Descriptor struct {
	Name        string
	Description string
	InputSchema *Schema
	Execute     HandlerFunc
}

// Registry maps tool names to descriptors. Listing order is registration
// order, so the tool set advertised to the model is deterministic.
type Registry struct {
	byName  map[string]*Descriptor
	ordered []*Descriptor
	mu      sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds a tool. It fails on an empty or reserved name, and with
// DuplicateToolNameError if the name is already present.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return &ValidationError{Tool: d.Name, Reason: "tool name is empty"}
	}
	if d.Name == RespondSignalName {
		return &ReservedToolNameError{Name: d.Name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		return &DuplicateToolNameError{Name: d.Name}
	}

	stored := d
	r.byName[d.Name] = &stored
	r.ordered = append(r.ordered, &stored)
	return nil
}

// Lookup returns a descriptor by name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	return d, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.ordered))
	for i, d := range r.ordered {
		out[i] = *d
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Definitions renders the registry as the tool set advertised to the
// model, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, len(r.ordered))
	for i, d := range r.ordered {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if d.InputSchema != nil {
			params = d.InputSchema.JSON()
		}
		defs[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		}
	}
	return defs
}
