// Package registry holds the process-wide tool catalog and computes the
// per-tenant visible subset. The catalog is immutable after startup and safe
// for unsynchronized concurrent reads; all tenant scoping happens as a pure
// function of the tenant's configuration at call time.
package registry

import (
	"context"
	"encoding/json"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/ratelimit"
)

// Category groups tools for tenant-level enablement.
type Category string

const (
	CategoryCommerce  Category = "commerce"
	CategoryAnalytics Category = "analytics"
	CategoryCreator   Category = "creator"
	CategorySupport   Category = "support"
	CategoryAdmin     Category = "admin"
)

// Annotations declare a tool's behavioral contract. They drive router-level
// policy (admin enforcement, rate tiers, streaming dispatch); tools never
// self-enforce them.
type Annotations struct {
	ReadOnly      bool
	Destructive   bool
	Idempotent    bool
	RequiresAuth  bool
	RequiresAdmin bool
	RateLimitTier ratelimit.Tier
	// Streaming selects the StreamHandler invocation path. Dispatch is
	// discriminated by this flag, not by runtime type inspection.
	Streaming bool
}

// HandlerFunc executes a non-streaming tool. The authorization context is
// injected by the router and cannot be influenced by client arguments.
type HandlerFunc func(ctx context.Context, ac *auth.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// StreamHandlerFunc begins a streaming tool invocation, returning a pull-based
// iterator over result chunks.
type StreamHandlerFunc func(ctx context.Context, ac *auth.Context, args json.RawMessage) (ChunkIterator, error)

// ChunkIterator yields one wire chunk at a time. Next returns io.EOF after the
// final chunk; any other error terminates the stream as a tool execution
// failure. Implementations must honor ctx cancellation so an early client
// disconnect stops production promptly.
type ChunkIterator interface {
	Next(ctx context.Context) (mcp.ContentBlock, error)
}

// ChunkIteratorFunc adapts a function to the ChunkIterator interface.
type ChunkIteratorFunc func(ctx context.Context) (mcp.ContentBlock, error)

func (f ChunkIteratorFunc) Next(ctx context.Context) (mcp.ContentBlock, error) { return f(ctx) }

// ToolDefinition is one static catalog entry. Immutable after registration;
// owned by the process, not by any tenant.
type ToolDefinition struct {
	Name        string
	Category    Category
	Description string
	InputSchema mcp.ToolInputSchema
	Annotations Annotations

	// Exactly one of Handler/StreamHandler is set, matching
	// Annotations.Streaming.
	Handler       HandlerFunc
	StreamHandler StreamHandlerFunc
}

// Descriptor returns the wire-level tool descriptor.
func (d ToolDefinition) Descriptor() mcp.Tool {
	return mcp.Tool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
}
