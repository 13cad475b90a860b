package registry

import (
	"fmt"
	"strings"

	"github.com/cgk-platform/mcp-gateway/mcp"
)

// ResourceEntry pairs a resource descriptor with its contents and the
// category that scopes its visibility.
type ResourceEntry struct {
	Category Category
	Resource mcp.Resource
	Contents mcp.ResourceContents
}

// PromptEntry pairs a prompt descriptor with its message template and the
// category that scopes its visibility.
type PromptEntry struct {
	Category Category
	Prompt   mcp.Prompt
	// Messages may contain {{argName}} placeholders substituted at get time.
	Messages []mcp.PromptMessage
}

// RegisterResources adds static resources to the catalog.
func (r *Registry) RegisterResources(entries ...ResourceEntry) error {
	for _, e := range entries {
		if e.Resource.URI == "" {
			return fmt.Errorf("register resource: uri is required")
		}
		r.resources = append(r.resources, e)
	}
	return nil
}

// RegisterPrompts adds static prompts to the catalog.
func (r *Registry) RegisterPrompts(entries ...PromptEntry) error {
	for _, e := range entries {
		if e.Prompt.Name == "" {
			return fmt.Errorf("register prompt: name is required")
		}
		r.prompts = append(r.prompts, e)
	}
	return nil
}

// VisibleResources returns resources in categories enabled for the tenant.
func (r *Registry) VisibleResources(cfg TenantToolConfig) []mcp.Resource {
	var out []mcp.Resource
	for _, e := range r.resources {
		if categoryEnabled(cfg, e.Category) {
			out = append(out, e.Resource)
		}
	}
	return out
}

// ReadResource returns the contents of a visible resource. Hidden and
// nonexistent URIs are both ErrResourceNotFound.
func (r *Registry) ReadResource(uri string, cfg TenantToolConfig) (mcp.ResourceContents, error) {
	for _, e := range r.resources {
		if e.Resource.URI == uri && categoryEnabled(cfg, e.Category) {
			return e.Contents, nil
		}
	}
	return mcp.ResourceContents{}, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}

// VisiblePrompts returns prompts in categories enabled for the tenant.
func (r *Registry) VisiblePrompts(cfg TenantToolConfig) []mcp.Prompt {
	var out []mcp.Prompt
	for _, e := range r.prompts {
		if categoryEnabled(cfg, e.Category) {
			out = append(out, e.Prompt)
		}
	}
	return out
}

// GetPrompt renders a visible prompt with the given arguments substituted
// into {{argName}} placeholders.
func (r *Registry) GetPrompt(name string, args map[string]string, cfg TenantToolConfig) (*mcp.GetPromptResult, error) {
	for _, e := range r.prompts {
		if e.Prompt.Name != name || !categoryEnabled(cfg, e.Category) {
			continue
		}
		msgs := make([]mcp.PromptMessage, len(e.Messages))
		for i, m := range e.Messages {
			text := m.Content.Text
			for k, v := range args {
				text = strings.ReplaceAll(text, "{{"+k+"}}", v)
			}
			msgs[i] = mcp.PromptMessage{Role: m.Role, Content: mcp.TextBlock(text)}
		}
		return &mcp.GetPromptResult{Description: e.Prompt.Description, Messages: msgs}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
}

func categoryEnabled(cfg TenantToolConfig, c Category) bool {
	for _, ec := range cfg.EnabledCategories {
		if ec == c {
			return true
		}
	}
	return false
}
