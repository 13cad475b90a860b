// Package engine is the transport-agnostic request router of the gateway. It
// drives one JSON-RPC call through the pipeline: protocol negotiation,
// rate-limit admission, tenant-scoped tool resolution, and execution. Every
// failure short-circuits to a JSON-RPC error response; nothing past the
// failing stage runs.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/ratelimit"
	"github.com/cgk-platform/mcp-gateway/registry"
	"github.com/cgk-platform/mcp-gateway/sessions"
)

// ChunkSink accepts streamed payloads from the executor. WriteChunk must not
// return until the transport has accepted the bytes; that return is the
// backpressure signal gating the next pull from the tool's sequence.
type ChunkSink interface {
	WriteChunk(ctx context.Context, payload []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithServerInfo sets the implementation info advertised on initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.serverInfo = info }
}

// WithTenantPolicy overrides the per-tenant global rate-limit policy.
func WithTenantPolicy(p ratelimit.Policy) Option {
	return func(e *Engine) { e.tenantPolicy = p }
}

// WithTierPolicies overrides the tool-tier rate-limit policy table.
func WithTierPolicies(tiers map[ratelimit.Tier]ratelimit.Policy) Option {
	return func(e *Engine) { e.tiers = tiers }
}

// WithSessionTTL overrides the session idle TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.sessionTTL = ttl }
}

// Engine orchestrates the request pipeline. It holds no per-request state;
// all cross-request state lives behind the injected store interfaces.
type Engine struct {
	reg     *registry.Registry
	tenants registry.ConfigSource
	store   sessions.Store
	limiter ratelimit.Limiter

	tenantPolicy ratelimit.Policy
	tiers        map[ratelimit.Tier]ratelimit.Policy
	serverInfo   mcp.ImplementationInfo
	sessionTTL   time.Duration
	log          *slog.Logger
}

// New builds an engine over the given collaborators.
func New(reg *registry.Registry, tenants registry.ConfigSource, store sessions.Store, limiter ratelimit.Limiter, opts ...Option) *Engine {
	e := &Engine{
		reg:          reg,
		tenants:      tenants,
		store:        store,
		limiter:      limiter,
		tenantPolicy: ratelimit.DefaultTenantPolicy,
		tiers:        ratelimit.DefaultTierPolicies,
		serverInfo:   mcp.ImplementationInfo{Name: "mcp-gateway", Version: "dev"},
		sessionTTL:   sessions.DefaultIdleTTL,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ServerInfo returns the advertised implementation info.
func (e *Engine) ServerInfo() mcp.ImplementationInfo { return e.serverInfo }

// Capabilities returns the advertised server capability set.
func (e *Engine) Capabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Tools:     &mcp.ToolsCapability{},
		Resources: &mcp.ResourcesCapability{},
		Prompts:   &mcp.PromptsCapability{},
	}
}

// Initialize negotiates the protocol version and creates a session. The
// chosen version is pinned for the session's lifetime. Negotiation failure
// creates no session.
func (e *Engine) Initialize(ctx context.Context, ac *auth.Context, req *mcp.InitializeRequest) (*sessions.Session, *mcp.InitializeResult, error) {
	version, err := mcp.NegotiateProtocolVersion(req.ProtocolVersion)
	if err != nil {
		e.log.InfoContext(ctx, "protocol.negotiate.fail", slog.String("requested", req.ProtocolVersion))
		return nil, nil, err
	}

	now := time.Now()
	sess := &sessions.Session{
		ID:              uuid.NewString(),
		TenantID:        ac.TenantID,
		UserID:          ac.UserID,
		ProtocolVersion: version,
		State:           sessions.StateInitializing,
		CreatedAt:       now,
		LastActiveAt:    now,
	}
	if err := e.store.Create(ctx, sess, e.sessionTTL); err != nil {
		return nil, nil, err
	}

	e.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("protocol_version", version))

	return sess, &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    e.Capabilities(),
		ServerInfo:      e.serverInfo,
	}, nil
}

// HandleNotification processes a JSON-RPC notification. Failures are recorded
// server-side only; the transport acknowledges notifications with an empty
// 202 regardless of outcome.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, method string) {
	switch mcp.Method(method) {
	case mcp.InitializedNotificationMethod:
		if err := e.store.MarkReady(ctx, sess.ID); err != nil {
			e.log.ErrorContext(ctx, "session.mark_ready.fail", slog.String("err", err.Error()))
			return
		}
		if err := e.store.Touch(ctx, sess.ID, ""); err != nil {
			e.log.WarnContext(ctx, "session.touch.fail", slog.String("err", err.Error()))
		}
		e.log.InfoContext(ctx, "session.ready")
	default:
		e.log.InfoContext(ctx, "notification.ignored", slog.String("method", method))
	}
}

// touch refreshes the session TTL and bumps its per-category usage counter.
func (e *Engine) touch(ctx context.Context, sess *sessions.Session, category string) {
	if err := e.store.Touch(ctx, sess.ID, category); err != nil {
		e.log.WarnContext(ctx, "session.touch.fail", slog.String("err", err.Error()))
	}
}

// tenantConfig resolves the caller's tool policy. A missing policy yields an
// empty config, which makes every tool invisible.
func (e *Engine) tenantConfig(ctx context.Context, ac *auth.Context) (registry.TenantToolConfig, error) {
	cfg, err := e.tenants.Lookup(ctx, ac.TenantID)
	if err != nil {
		if errors.Is(err, registry.ErrTenantNotConfigured) {
			return registry.TenantToolConfig{TenantID: ac.TenantID}, nil
		}
		return registry.TenantToolConfig{}, err
	}
	return cfg, nil
}
