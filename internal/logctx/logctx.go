// Package logctx enriches slog records with request-scoped data carried on
// the context: HTTP request info, the resolved tenant, the in-flight RPC
// message, and the tool being invoked. Credentials are never attached.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps an inner slog.Handler and appends context-derived groups.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
		))
	}

	if td, ok := ctx.Value(tenantDataKey{}).(*TenantData); ok {
		r.AddAttrs(slog.Group("tenant",
			slog.String("id", td.TenantID),
			slog.String("user_id", td.UserID),
			slog.String("auth_method", td.AuthMethod),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("protocol_version", sd.ProtocolVersion),
		))
	}

	if msg, ok := ctx.Value(rpcDataKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if tc, ok := ctx.Value(toolDataKey{}).(*ToolData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", tc.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData identifies one inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type tenantDataKey struct{}

// TenantData carries the resolved authorization context identifiers. The
// AuthMethod names the credential strategy that matched ("bearer", "api_key",
// "cookie"); the credential itself is never recorded.
type TenantData struct {
	TenantID   string
	UserID     string
	AuthMethod string
}

func WithTenantData(ctx context.Context, data *TenantData) context.Context {
	return context.WithValue(ctx, tenantDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the MCP session a request belongs to.
type SessionData struct {
	SessionID       string
	ProtocolVersion string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type rpcDataKey struct{}

// RPCMessage describes the JSON-RPC message being processed.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcDataKey{}, msg)
}

type toolDataKey struct{}

// ToolData names the tool being invoked.
type ToolData struct {
	Name string
}

func WithToolData(ctx context.Context, data *ToolData) context.Context {
	return context.WithValue(ctx, toolDataKey{}, data)
}
