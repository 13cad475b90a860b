package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/cgk-platform/mcp-gateway/auth"
	"github.com/cgk-platform/mcp-gateway/internal/engine"
	"github.com/cgk-platform/mcp-gateway/internal/jsonrpc"
	"github.com/cgk-platform/mcp-gateway/internal/logctx"
	"github.com/cgk-platform/mcp-gateway/mcp"
	"github.com/cgk-platform/mcp-gateway/oauth"
	"github.com/cgk-platform/mcp-gateway/registry"
	"github.com/cgk-platform/mcp-gateway/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names; Go matches headers case-insensitively.
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	retryAfterHeader         = "Retry-After"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger         *slog.Logger
	oauthServer    *oauth.Server
	allowedOrigins []string
}

// WithLogger sets the slog logger used by the transport.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithOAuthServer mounts the authorization-code endpoints under /mcp/oauth.
func WithOAuthServer(srv *oauth.Server) Option {
	return func(c *newConfig) { c.oauthServer = srv }
}

// WithAllowedOrigins sets the CORS origin allow-list. Defaults to "*".
func WithAllowedOrigins(origins ...string) Option {
	return func(c *newConfig) { c.allowedOrigins = origins }
}

// Handler serves the streamable HTTP transport: POST/GET /mcp, the public
// manifest, and optionally the OAuth endpoints.
type Handler struct {
	router   chi.Router
	log      *slog.Logger
	resolver *auth.Resolver
	eng      *engine.Engine
	store    sessions.Store
	reg      *registry.Registry
}

// New builds the transport over its collaborators.
func New(resolver *auth.Resolver, eng *engine.Engine, store sessions.Store, reg *registry.Registry, opts ...Option) (*Handler, error) {
	if resolver == nil || eng == nil || store == nil || reg == nil {
		return nil, errors.New("resolver, engine, store, and registry are required")
	}
	cfg := &newConfig{logger: slog.Default(), allowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:      slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		resolver: resolver,
		eng:      eng,
		store:    store,
		reg:      reg,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Api-Key",
			mcpSessionIDHeader, mcpProtocolVersionHeader, lastEventIDHeader,
		},
		ExposedHeaders: []string{mcpSessionIDHeader, mcpProtocolVersionHeader, retryAfterHeader},
		MaxAge:         600,
	}))
	r.Post("/mcp", h.handlePostMCP)
	r.Get("/mcp", h.handleGetMCP)
	r.Get("/mcp/manifest", h.handleGetManifest)
	if cfg.oauthServer != nil {
		r.Get("/mcp/oauth/authorize", cfg.oauthServer.HandleAuthorize)
		r.Post("/mcp/oauth/token", cfg.oauthServer.HandleToken)
	}
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})))
}

// writeRPCError emits a JSON-RPC error body with the HTTP status mirroring
// the error category. Rate-limit rejections also surface Retry-After.
func writeRPCError(w http.ResponseWriter, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string, data any) {
	resp := jsonrpc.NewErrorResponse(id, code, msg, data)
	writeRPCResponse(w, resp)
}

func writeRPCResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	status := http.StatusOK
	if resp.Error != nil {
		status = resp.Error.Code.HTTPStatus()
		if resp.Error.Code == jsonrpc.ErrorCodeRateLimited {
			if d, ok := resp.Error.Data.(map[string]any); ok {
				if ra, ok := d["retryAfterSeconds"].(int64); ok && ra > 0 {
					w.Header().Set(retryAfterHeader, strconv.FormatInt(ra, 10))
				}
			}
		}
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// authenticate resolves the request credential, writing the error response
// itself on failure. A nil return means the response is already written.
func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, id *jsonrpc.RequestID) *auth.Context {
	ac, err := h.resolver.Resolve(ctx, r)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			w.Header().Set(wwwAuthenticateHeader, "Bearer")
			writeRPCError(w, id, jsonrpc.ErrorCodeUnauthenticated, "authentication required", nil)
		case errors.Is(err, auth.ErrInvalidCredential):
			w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
			writeRPCError(w, id, jsonrpc.ErrorCodeInvalidCredential, "credential is invalid or expired", nil)
		default:
			h.log.ErrorContext(ctx, "auth.resolve.err", slog.String("err", err.Error()))
			writeRPCError(w, id, jsonrpc.ErrorCodeInternalError, "authentication backend unavailable", nil)
		}
		return nil
	}
	return ac
}

// loadSession fetches and authorizes the session named in the header. Unknown,
// expired, and cross-tenant sessions are indistinguishable 404s.
func (h *Handler) loadSession(ctx context.Context, w http.ResponseWriter, ac *auth.Context, sessID string, id *jsonrpc.RequestID) *sessions.Session {
	sess, err := h.store.Load(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.InfoContext(ctx, "session.load.miss")
			writeRPCError(w, id, jsonrpc.ErrorCodeMethodNotFound, "session not found or expired", nil)
			return nil
		}
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		writeRPCError(w, id, jsonrpc.ErrorCodeInternalError, "session store unavailable", nil)
		return nil
	}
	if sess.TenantID != ac.TenantID {
		h.log.WarnContext(ctx, "session.tenant.mismatch")
		writeRPCError(w, id, jsonrpc.ErrorCodeMethodNotFound, "session not found or expired", nil)
		return nil
	}
	return sess
}

func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeRPCError(w, nil, jsonrpc.ErrorCodeParseError, "invalid JSON body", nil)
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		writeRPCError(w, nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported", nil)
		return
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		writeRPCError(w, nil, jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message: "+err.Error(), nil)
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	// Notifications are fire-and-forget: the client gets an empty 202 no
	// matter what happens while processing one. Failures along the way are
	// recorded server-side only.
	if msg.Type() == "notification" {
		h.handlePostNotification(ctx, w, r, msg.AsRequest(), start)
		return
	}

	ac := h.authenticate(ctx, w, r, msg.ID)
	if ac == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}
	ctx = logctx.WithTenantData(ctx, &logctx.TenantData{
		TenantID:   ac.TenantID,
		UserID:     ac.UserID,
		AuthMethod: ac.Method,
	})

	// Client-originated responses have no server-side recipient; ack and drop.
	if msg.Type() == "response" {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	req := msg.AsRequest()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, ac, req, start)
		return
	}

	sess := h.loadSession(ctx, w, ac, sessID, req.ID)
	if sess == nil {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		writeRPCError(w, req.ID, jsonrpc.ErrorCodeInvalidRequest, "protocol version does not match session", nil)
		return
	}

	if acc := r.Header.Get("Accept"); acc != "" && mcp.Method(req.Method) == mcp.ToolsCallMethod {
		// Streaming tool results arrive as SSE; a client that cannot accept
		// the stream must not invoke tools at all.
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	sink := &sseResponseSink{
		w:  w,
		wf: wf,
		prelude: func(w http.ResponseWriter) {
			w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
		},
	}

	resp := h.eng.HandleRequest(ctx, sess, ac, req, sink)
	if resp == nil {
		// Client disconnected mid-stream; nothing left to deliver.
		h.log.InfoContext(ctx, "rpc.inbound.abandoned", slog.Duration("dur", time.Since(start)))
		return
	}

	if sink.Started() {
		b, err := json.Marshal(resp)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			return
		}
		// The terminal response is the stream's done marker.
		if err := writeSSEEvent(wf, "", b); err != nil {
			h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	writeRPCResponse(w, resp)
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handlePostNotification processes one inbound notification. The acknowledgment
// is an empty 202 regardless of outcome: auth failures, unknown sessions, and
// tenant mismatches are logged and dropped, never reported to the client.
func (h *Handler) handlePostNotification(ctx context.Context, w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, start time.Time) {
	defer func() {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ack", slog.Duration("dur", time.Since(start)))
	}()

	ac, err := h.resolver.Resolve(ctx, r)
	if err != nil {
		h.log.InfoContext(ctx, "notification.auth.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithTenantData(ctx, &logctx.TenantData{
		TenantID:   ac.TenantID,
		UserID:     ac.UserID,
		AuthMethod: ac.Method,
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.InfoContext(ctx, "notification.session.missing")
		return
	}
	sess, err := h.store.Load(ctx, sessID)
	if err != nil {
		h.log.InfoContext(ctx, "notification.session.miss")
		return
	}
	if sess.TenantID != ac.TenantID {
		h.log.WarnContext(ctx, "session.tenant.mismatch")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
	})
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	h.eng.HandleNotification(ctx, sess, req.Method)
}

// handleInitialize serves the sessionless initialize request that establishes
// a new session.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, ac *auth.Context, req *jsonrpc.Request, start time.Time) {
	if mcp.Method(req.Method) != mcp.InitializeMethod {
		h.log.InfoContext(ctx, "session.initialize.expected")
		writeRPCError(w, req.ID, jsonrpc.ErrorCodeInvalidRequest, "a session must be established with initialize first", nil)
		return
	}
	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
		writeRPCError(w, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil)
		return
	}

	sess, initRes, err := h.eng.Initialize(ctx, ac, &initReq)
	if err != nil {
		if errors.Is(err, mcp.ErrUnsupportedProtocolVersion) {
			writeRPCError(w, req.ID, jsonrpc.ErrorCodeUnsupportedProtocol, "unsupported protocol version", map[string]any{
				"supported": mcp.SupportedProtocolVersions,
				"requested": initReq.ProtocolVersion,
			})
			return
		}
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		writeRPCError(w, req.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session", nil)
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		writeRPCError(w, req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode initialize response", nil)
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.ID)
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	writeRPCResponse(w, resp)
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP serves the server-push SSE stream for an established session.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "session.id.missing")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// When the shared store is unreachable the push stream cannot be served;
	// degrade to a synchronous capability payload so clients keep functioning
	// in request/response mode. The probe runs before authentication because
	// the api-key and cookie strategies need the same store: with it down they
	// would fail with a 500 instead of degrading. The payload carries only the
	// public capability surface the manifest already exposes.
	if err := h.store.Ping(ctx); err != nil {
		h.log.WarnContext(ctx, "store.ping.fail", slog.String("err", err.Error()))
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"degraded":     true,
			"capabilities": h.eng.Capabilities(),
			"serverInfo":   h.eng.ServerInfo(),
		})
		return
	}

	ac := h.authenticate(ctx, w, r, nil)
	if ac == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}
	ctx = logctx.WithTenantData(ctx, &logctx.TenantData{
		TenantID:   ac.TenantID,
		UserID:     ac.UserID,
		AuthMethod: ac.Method,
	})

	sess := h.loadSession(ctx, w, ac, sessID, nil)
	if sess == nil {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	lastEventID := r.Header.Get(lastEventIDHeader)

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	err := h.store.Subscribe(ctx, sess.ID, lastEventID, func(cbCtx context.Context, msgID string, payload []byte) error {
		if err := writeSSEEvent(wf, msgID, payload); err != nil {
			return err
		}
		h.log.InfoContext(cbCtx, "sse.message.deliver")
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		return
	}

	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}
