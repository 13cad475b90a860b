package registry

import (
	"errors"
	"fmt"
	"slices"
)

// ErrToolNotFound is returned for tools that do not exist or are hidden from
// the requesting tenant. The two cases are deliberately indistinguishable so
// a hidden tool leaks no existence signal.
var ErrToolNotFound = errors.New("tool not found")

// ErrResourceNotFound is the resource analogue of ErrToolNotFound.
var ErrResourceNotFound = errors.New("resource not found")

// ErrPromptNotFound is the prompt analogue of ErrToolNotFound.
var ErrPromptNotFound = errors.New("prompt not found")

// Registry is the process-wide catalog of tools, resources, and prompts.
// Registration happens once at startup; afterwards the registry is read-only
// and safe for unsynchronized concurrent reads.
type Registry struct {
	tools     map[string]ToolDefinition
	toolOrder []string
	resources []ResourceEntry
	prompts   []PromptEntry
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]ToolDefinition)}
}

// RegisterTools adds tool definitions to the catalog. Duplicate names and
// definitions whose handler shape disagrees with the Streaming annotation are
// rejected.
func (r *Registry) RegisterTools(defs ...ToolDefinition) error {
	for _, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("register tool: name is required")
		}
		if _, exists := r.tools[d.Name]; exists {
			return fmt.Errorf("register tool %q: duplicate name", d.Name)
		}
		if d.Annotations.Streaming && d.StreamHandler == nil {
			return fmt.Errorf("register tool %q: streaming annotation without stream handler", d.Name)
		}
		if !d.Annotations.Streaming && d.Handler == nil {
			return fmt.Errorf("register tool %q: missing handler", d.Name)
		}
		r.tools[d.Name] = d
		r.toolOrder = append(r.toolOrder, d.Name)
	}
	return nil
}

// VisibleTools computes the tenant's effective tool set in registration
// order. Pure: recomputed per request, never cached by tenant.
func (r *Registry) VisibleTools(cfg TenantToolConfig) []ToolDefinition {
	var out []ToolDefinition
	for _, name := range r.toolOrder {
		d := r.tools[name]
		if cfg.Allows(d) {
			out = append(out, d)
		}
	}
	return out
}

// ResolveTool returns the named tool iff it is visible to the tenant. Hidden
// and nonexistent tools are both ErrToolNotFound.
func (r *Registry) ResolveTool(name string, cfg TenantToolConfig) (ToolDefinition, error) {
	d, ok := r.tools[name]
	if !ok || !cfg.Allows(d) {
		return ToolDefinition{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return d, nil
}

// Categories returns the distinct categories present in the catalog, in first
// appearance order. Used by the manifest endpoint.
func (r *Registry) Categories() []Category {
	var out []Category
	for _, name := range r.toolOrder {
		c := r.tools[name].Category
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
