package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerConfig controls validation of Bearer access tokens. Tokens are minted
// by the gateway's own OAuth authorization server (package oauth) with a
// shared signing key; there is no external issuer to discover.
type BearerConfig struct {
	Issuer string
	// Audience is the expected aud claim. Empty disables the audience check
	// (local/testing only).
	Audience string
	// SigningKey is the HMAC key shared with the token minter.
	SigningKey []byte
	// AllowedAlgs restricts acceptable signing algorithms. Defaults to HS256.
	AllowedAlgs []string
	// Leeway tolerates small clock skew on exp/nbf checks. Defaults to 60s.
	Leeway time.Duration
}

// TokenClaims is the claim set carried by gateway-minted access tokens. The
// oauth package mints tokens with this shape; BearerStrategy consumes them.
type TokenClaims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tid"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// BearerStrategy validates Authorization: Bearer <jwt> credentials.
type BearerStrategy struct {
	cfg    BearerConfig
	parser *jwt.Parser
}

// NewBearerStrategy builds the Bearer JWT strategy.
func NewBearerStrategy(cfg BearerConfig) (*BearerStrategy, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("bearer: signing key is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"HS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &BearerStrategy{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

func (s *BearerStrategy) Name() string { return "bearer" }

func (s *BearerStrategy) Extract(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func (s *BearerStrategy) Resolve(_ context.Context, credential string) (*Context, error) {
	var claims TokenClaims
	_, err := s.parser.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		return s.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token missing tenant or subject claim", ErrInvalidCredential)
	}
	return &Context{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Email:    claims.Email,
		Roles:    claims.Roles,
	}, nil
}
