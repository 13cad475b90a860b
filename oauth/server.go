package oauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cgk-platform/mcp-gateway/auth"
)

// Config for the authorization server.
type Config struct {
	// Issuer is the iss claim on minted tokens.
	Issuer string
	// Audience is the aud claim on minted tokens; must match the bearer
	// strategy's expectation.
	Audience string
	// SigningKey is the HMAC key shared with auth.BearerStrategy.
	SigningKey []byte
	// TokenTTL is the minted access token lifetime. Defaults to 1h.
	TokenTTL time.Duration
	// Clients is the connector client allow-list.
	Clients []Client
	// KeyPrefix for stored authorization codes. Defaults to "mcp:oauthcode:".
	KeyPrefix string
}

// Server implements the authorize and token endpoints.
type Server struct {
	cfg   Config
	codes *codeStore
	log   *slog.Logger
	now   func() time.Time
}

// New builds the authorization server over the shared store.
func New(cfg Config, client redis.UniversalClient, log *slog.Logger) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mcp:oauthcode:"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:   cfg,
		codes: &codeStore{client: client, keyPrefix: cfg.KeyPrefix},
		log:   log,
		now:   time.Now,
	}
}

func (s *Server) lookupClient(id string) (Client, bool) {
	for _, c := range s.cfg.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return Client{}, false
}

// HandleAuthorize serves GET /mcp/oauth/authorize. On success it issues an
// authorization code bound to the client's tenant and redirects to the
// validated redirect_uri with code and state.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	client, ok := s.lookupClient(q.Get("client_id"))
	if !ok {
		s.log.InfoContext(ctx, "oauth.authorize.unknown_client")
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	redirectURI := q.Get("redirect_uri")
	if !slices.Contains(client.RedirectURIs, redirectURI) {
		// Never redirect to an unvalidated URI.
		s.log.InfoContext(ctx, "oauth.authorize.bad_redirect")
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not registered for client")
		return
	}

	fail := func(code, desc string) {
		s.log.InfoContext(ctx, "oauth.authorize.reject", slog.String("reason", code))
		redirectError(w, r, redirectURI, code, desc, q.Get("state"))
	}

	if q.Get("response_type") != "code" {
		fail("unsupported_response_type", "only response_type=code is supported")
		return
	}
	state := q.Get("state")
	if len(state) > maxStateLength {
		fail("invalid_request", "state too long")
		return
	}
	scope := q.Get("scope")
	if len(scope) > maxScopeLength {
		fail("invalid_request", "scope too long")
		return
	}
	challenge := q.Get("code_challenge")
	if challenge == "" {
		fail("invalid_request", "code_challenge is required")
		return
	}
	// PKCE verifiers are 43-128 chars; the S256 challenge is a fixed-length
	// base64url digest, but bound it defensively anyway.
	if len(challenge) < 43 || len(challenge) > 128 {
		fail("invalid_request", "code_challenge length out of range")
		return
	}
	if m := q.Get("code_challenge_method"); m != "S256" {
		fail("invalid_request", "code_challenge_method must be S256")
		return
	}

	userID := client.UserID
	if userID == "" {
		userID = "connector:" + client.ID
	}
	code := uuid.NewString()
	rec := authCode{
		CodeChallenge:   challenge,
		ChallengeMethod: "S256",
		RedirectURI:     redirectURI,
		ClientID:        client.ID,
		TenantID:        client.TenantID,
		UserID:          userID,
		Scope:           scope,
		IssuedAt:        s.now(),
	}
	if err := s.codes.put(ctx, code, rec); err != nil {
		s.log.ErrorContext(ctx, "oauth.authorize.store.fail", slog.String("err", err.Error()))
		fail("server_error", "failed to issue authorization code")
		return
	}

	loc, _ := url.Parse(redirectURI)
	qq := loc.Query()
	qq.Set("code", code)
	if state != "" {
		qq.Set("state", state)
	}
	loc.RawQuery = qq.Encode()
	s.log.InfoContext(ctx, "oauth.authorize.ok", slog.String("client_id", client.ID))
	http.Redirect(w, r, loc.String(), http.StatusFound)
}

// tokenResponse is the success body of the token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// HandleToken serves POST /mcp/oauth/token. It consumes the authorization
// code atomically, verifies the PKCE verifier, and mints a Bearer JWT.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if gt := r.PostFormValue("grant_type"); gt != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}
	code := r.PostFormValue("code")
	verifier := r.PostFormValue("code_verifier")
	if code == "" || verifier == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code and code_verifier are required")
		return
	}

	rec, err := s.codes.consume(ctx, code)
	if err != nil {
		if errors.Is(err, errCodeNotFound) {
			// Unknown, expired, or already consumed: all invalid_grant.
			s.log.InfoContext(ctx, "oauth.token.code.miss")
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid or consumed")
			return
		}
		s.log.ErrorContext(ctx, "oauth.token.consume.fail", slog.String("err", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to look up authorization code")
		return
	}

	// The code is already invalidated at this point; any validation failure
	// below burns it, which is the intended single-use behavior.
	if cid := r.PostFormValue("client_id"); cid != rec.ClientID {
		s.log.InfoContext(ctx, "oauth.token.client.mismatch")
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "client_id does not match authorization code")
		return
	}
	if ru := r.PostFormValue("redirect_uri"); ru != rec.RedirectURI {
		s.log.InfoContext(ctx, "oauth.token.redirect.mismatch")
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match authorization code")
		return
	}
	if !verifierMatches(verifier, rec.CodeChallenge) {
		s.log.InfoContext(ctx, "oauth.token.verifier.mismatch")
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	client, _ := s.lookupClient(rec.ClientID)
	tok, err := s.mintAccessToken(rec, client)
	if err != nil {
		s.log.ErrorContext(ctx, "oauth.token.mint.fail", slog.String("err", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to mint access token")
		return
	}

	s.log.InfoContext(ctx, "oauth.token.ok", slog.String("client_id", rec.ClientID))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenTTL / time.Second),
		Scope:       rec.Scope,
	})
}

func (s *Server) mintAccessToken(rec authCode, client Client) (string, error) {
	now := s.now()
	claims := auth.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   rec.UserID,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			ID:        uuid.NewString(),
		},
		TenantID: rec.TenantID,
		Roles:    client.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
}

// oauthError is the standard OAuth 2.0 error body.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthError{Error: code, ErrorDescription: desc})
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, desc, state string) {
	loc, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, code, desc)
		return
	}
	q := loc.Query()
	q.Set("error", code)
	if desc != "" {
		q.Set("error_description", desc)
	}
	if state != "" {
		q.Set("state", state)
	}
	loc.RawQuery = q.Encode()
	http.Redirect(w, r, loc.String(), http.StatusFound)
}
