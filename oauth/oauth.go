// Package oauth implements the authorization-code + PKCE exchange used by
// connector clients that cannot hold a static credential. Both endpoints are
// stateless; authorization codes live in the shared store with a short TTL
// and are consumed atomically so replay of a code fails even across server
// instances.
//
// On success the token endpoint mints a Bearer JWT equivalent to what the
// auth package accepts, closing the loop between the OAuth flow and ordinary
// authenticated calls.
package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Code TTL and parameter bounds.
const (
	// CodeTTL is the authorization code lifetime.
	CodeTTL = 10 * time.Minute
	// maxStateLength bounds the state parameter to prevent abuse via
	// oversized params.
	maxStateLength = 512
	// maxScopeLength bounds the scope parameter.
	maxScopeLength = 256
)

// Client is one entry of the connector client allow-list. Clients are public
// (PKCE-only, no secret) and bound to a tenant at registration time.
type Client struct {
	ID           string
	TenantID     string
	RedirectURIs []string
	// UserID is the principal minted tokens act as. Empty derives
	// "connector:<client id>".
	UserID string
	Roles  []string
}

// authCode is the stored shape of an issued authorization code.
type authCode struct {
	CodeChallenge   string    `json:"code_challenge"`
	ChallengeMethod string    `json:"challenge_method"`
	RedirectURI     string    `json:"redirect_uri"`
	ClientID        string    `json:"client_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	Scope           string    `json:"scope,omitempty"`
	IssuedAt        time.Time `json:"issued_at"`
}

// codeStore persists authorization codes in the shared store. Consume is
// atomic: a code read is also its invalidation.
type codeStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var errCodeNotFound = errors.New("authorization code not found")

func (s *codeStore) put(ctx context.Context, code string, rec authCode) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode authorization code: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+code, b, CodeTTL).Err(); err != nil {
		return fmt.Errorf("store authorization code: %w", err)
	}
	return nil
}

// consume fetches and deletes the code in one atomic store operation. A
// second consume of the same code fails regardless of which instance served
// the first, which closes the replay race.
func (s *codeStore) consume(ctx context.Context, code string) (authCode, error) {
	raw, err := s.client.GetDel(ctx, s.keyPrefix+code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authCode{}, errCodeNotFound
		}
		return authCode{}, fmt.Errorf("consume authorization code: %w", err)
	}
	var rec authCode
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return authCode{}, fmt.Errorf("decode authorization code: %w", err)
	}
	return rec, nil
}

// verifierMatches recomputes SHA256(code_verifier) base64url and compares it
// to the stored challenge. This is a one-time code, not a long-lived secret,
// so constant-time comparison is not required; single-use consumption is the
// replay defense.
func verifierMatches(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}
