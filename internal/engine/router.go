package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/internal/jsonrpc"
	"github.com/cgk-platform/mcp-gateway/internal/logctx"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/ratelimit"
	"github.com/cgk-platform/mcp-gateway/sessions"
)

// HandleRequest drives one JSON-RPC request through the pipeline and shapes
// the response. It never returns a Go error: every failure becomes a
// well-formed JSON-RPC error response. A nil return means the client is gone
// and no response can be delivered.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request, sink ChunkSink) *jsonrpc.Response {
	method := mcp.Method(req.Method)

	// Read-only methods bypass rate limiting; everything else pays the coarse
	// per-tenant toll before dispatch.
	if !method.IsReadOnly() {
		if resp := e.admit(ctx, req.ID, ratelimit.TenantKey(ac.TenantID), e.tenantPolicy); resp != nil {
			return resp
		}
	}

	switch method {
	case mcp.PingMethod:
		e.touch(ctx, sess, "")
		return mustResult(req.ID, struct{}{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, sess, ac, req)
	case mcp.ToolsCallMethod:
		return e.handleToolsCall(ctx, sess, ac, req, sink)
	case mcp.ResourcesListMethod:
		return e.handleResourcesList(ctx, sess, ac, req)
	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(ctx, sess, ac, req)
	case mcp.PromptsListMethod:
		return e.handlePromptsList(ctx, sess, ac, req)
	case mcp.PromptsGetMethod:
		return e.handlePromptsGet(ctx, sess, ac, req)
	case mcp.InitializeMethod:
		// The transport routes initialize before a session exists; seeing it
		// here means the client re-sent it on an established session.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (e *Engine) handleToolsList(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request) *jsonrpc.Response {
	cfg, err := e.tenantConfig(ctx, ac)
	if err != nil {
		return e.internalError(ctx, req.ID, "tenant config lookup failed", err)
	}
	visible := e.reg.VisibleTools(cfg)
	tools := make([]mcp.Tool, 0, len(visible))
	for _, d := range visible {
		tools = append(tools, d.Descriptor())
	}
	e.touch(ctx, sess, "")
	return mustResult(req.ID, mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleToolsCall(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request, sink ChunkSink) *jsonrpc.Response {
	var call mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tools/call requires a tool name", nil)
	}
	ctx = logctx.WithToolData(ctx, &logctx.ToolData{Name: call.Name})

	cfg, err := e.tenantConfig(ctx, ac)
	if err != nil {
		return e.internalError(ctx, req.ID, "tenant config lookup failed", err)
	}

	tool, err := e.reg.ResolveTool(call.Name, cfg)
	if err != nil {
		// Hidden and nonexistent tools are indistinguishable by design.
		e.log.InfoContext(ctx, "tool.resolve.miss")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("tool not found: %s", call.Name), nil)
	}

	// Fine-grained admission keyed by the tool's declared tier.
	tierPolicy := ratelimit.PolicyForTier(e.tiers, tool.Annotations.RateLimitTier)
	if resp := e.admit(ctx, req.ID, ratelimit.ToolKey(ac.TenantID, call.Name), tierPolicy); resp != nil {
		return resp
	}

	// Admin enforcement happens here, in the router. Leaving it to tool
	// implementations would silently grant elevated access on a missed check.
	if tool.Annotations.RequiresAdmin && !ac.IsAdmin() {
		e.log.InfoContext(ctx, "tool.call.forbidden")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeForbidden, "tool requires an admin role", nil)
	}

	args, missing, err := sanitizeArguments(call.Arguments, tool.InputSchema)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "arguments must be a JSON object", nil)
	}
	if len(missing) > 0 {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "missing required arguments", map[string]any{"missing": missing})
	}

	e.touch(ctx, sess, string(tool.Category))

	if tool.Annotations.Streaming {
		return e.executeStreaming(ctx, ac, tool, args, req.ID, sink)
	}
	return e.executeUnary(ctx, ac, tool, args, req.ID)
}

func (e *Engine) handleResourcesList(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request) *jsonrpc.Response {
	cfg, err := e.tenantConfig(ctx, ac)
	if err != nil {
		return e.internalError(ctx, req.ID, "tenant config lookup failed", err)
	}
	e.touch(ctx, sess, "")
	res := e.reg.VisibleResources(cfg)
	if res == nil {
		res = []mcp.Resource{}
	}
	return mustResult(req.ID, mcp.ListResourcesResult{Resources: res})
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "resources/read requires a uri", nil)
	}
	cfg, err := e.tenantConfig(ctx, ac)
	if err != nil {
		return e.internalError(ctx, req.ID, "tenant config lookup failed", err)
	}
	contents, err := e.reg.ReadResource(params.URI, cfg)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("resource not found: %s", params.URI), nil)
	}
	e.touch(ctx, sess, "")
	return mustResult(req.ID, mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}})
}

func (e *Engine) handlePromptsList(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request) *jsonrpc.Response {
	cfg, err := e.tenantConfig(ctx, ac)
	if err != nil {
		return e.internalError(ctx, req.ID, "tenant config lookup failed", err)
	}
	e.touch(ctx, sess, "")
	prompts := e.reg.VisiblePrompts(cfg)
	if prompts == nil {
		prompts = []mcp.Prompt{}
	}
	return mustResult(req.ID, mcp.ListPromptsResult{Prompts: prompts})
}

func (e *Engine) handlePromptsGet(ctx context.Context, sess *sessions.Session, ac *auth.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.GetPromptRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "prompts/get requires a name", nil)
	}
	cfg, err := e.tenantConfig(ctx, ac)
	if err != nil {
		return e.internalError(ctx, req.ID, "tenant config lookup failed", err)
	}
	result, err := e.reg.GetPrompt(params.Name, params.Arguments, cfg)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("prompt not found: %s", params.Name), nil)
	}
	e.touch(ctx, sess, "")
	return mustResult(req.ID, result)
}

// admit runs one rate-limit check, returning a ready error response on
// rejection and nil on admission.
func (e *Engine) admit(ctx context.Context, id *jsonrpc.RequestID, subjectKey string, policy ratelimit.Policy) *jsonrpc.Response {
	d, err := e.limiter.Admit(ctx, subjectKey, policy.Limit, policy.Window)
	if err != nil {
		return e.internalError(ctx, id, "rate limit check failed", err)
	}
	if d.Allowed {
		return nil
	}
	retryAfter := int64(d.RetryAfter.Seconds())
	e.log.InfoContext(ctx, "ratelimit.reject",
		slog.String("subject", subjectKey),
		slog.Int64("retry_after_s", retryAfter))
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeRateLimited, "rate limit exceeded", map[string]any{
		"retryAfterSeconds": retryAfter,
	})
}

func (e *Engine) internalError(ctx context.Context, id *jsonrpc.RequestID, msg string, err error) *jsonrpc.Response {
	e.log.ErrorContext(ctx, "rpc.internal.fail", slog.String("err", err.Error()))
	// Internal details stay server-side.
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, msg, nil)
}

// sanitizeArguments strips reserved identity keys from client arguments
// (silent shadowing: a client-supplied tenantId is never honored) and reports
// required schema keys that are absent.
func sanitizeArguments(raw json.RawMessage, schema mcp.ToolInputSchema) (json.RawMessage, []string, error) {
	obj := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, nil, err
		}
	}
	for _, k := range auth.ReservedArgumentKeys {
		delete(obj, k)
	}
	var missing []string
	for _, req := range schema.Required {
		if _, ok := obj[req]; !ok {
			missing = append(missing, req)
		}
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	return out, missing, nil
}

func mustResult(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}
