package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/mcp"
)

// ToolOption configures a typed tool definition.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description     string
	annotations     Annotations
	allowAdditional bool
}

// WithDescription sets the tool's human-readable description.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithAnnotations sets the tool's behavioral annotations. The Streaming flag
// is overridden by the constructor used.
func WithAnnotations(a Annotations) ToolOption {
	return func(c *toolConfig) { c.annotations = a }
}

// WithAdditionalProperties permits unknown argument keys instead of rejecting
// them during decode.
func WithAdditionalProperties() ToolOption {
	return func(c *toolConfig) { c.allowAdditional = true }
}

// NewTool builds a non-streaming tool with a typed argument struct. The input
// schema is reflected from A's struct tags.
func NewTool[A any](name string, category Category, fn func(ctx context.Context, ac *auth.Context, args A) (*mcp.CallToolResult, error), opts ...ToolOption) ToolDefinition {
	cfg := applyOptions(opts)
	cfg.annotations.Streaming = false
	return ToolDefinition{
		Name:        name,
		Category:    category,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditional),
		Annotations: cfg.annotations,
		Handler: func(ctx context.Context, ac *auth.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
			a, err := decodeArgs[A](raw, cfg.allowAdditional)
			if err != nil {
				return ErrorResult("invalid arguments: %v", err), nil
			}
			return fn(ctx, ac, a)
		},
	}
}

// NewStreamingTool builds a streaming tool with a typed argument struct.
func NewStreamingTool[A any](name string, category Category, fn func(ctx context.Context, ac *auth.Context, args A) (ChunkIterator, error), opts ...ToolOption) ToolDefinition {
	cfg := applyOptions(opts)
	cfg.annotations.Streaming = true
	return ToolDefinition{
		Name:        name,
		Category:    category,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditional),
		Annotations: cfg.annotations,
		StreamHandler: func(ctx context.Context, ac *auth.Context, raw json.RawMessage) (ChunkIterator, error) {
			a, err := decodeArgs[A](raw, cfg.allowAdditional)
			if err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			return fn(ctx, ac, a)
		},
	}
}

// ErrorResult builds a tool-level error result (isError true, text content).
func ErrorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextBlock(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// TextResult builds a plain single-text tool result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextBlock(text)}}
}

func applyOptions(opts []ToolOption) *toolConfig {
	cfg := &toolConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func decodeArgs[A any](raw json.RawMessage, allowAdditional bool) (A, error) {
	var a A
	if len(raw) == 0 {
		return a, nil
	}
	if allowAdditional {
		err := json.Unmarshal(raw, &a)
		return a, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(&a)
	return a, err
}

// reflectInputSchema reflects a Go struct type into the simplified MCP input
// schema shape.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map onto the MCP input schema shape; anything else
	// degrades to an empty object.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	required = append(required, s.Required...)

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{Type: s.Type, Description: s.Description}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		p.Properties = make(map[string]mcp.SchemaProperty)
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			p.Properties[el.Key] = toSchemaProperty(el.Value)
		}
	}
	return p
}
