package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionCookieName is the platform's web session cookie.
const DefaultSessionCookieName = "cgk_session"

// platformSession is the session layer record shared with the rest of the
// platform. The web tier writes it at login; the gateway only reads.
type platformSession struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CookieStrategy validates the platform session cookie against the shared
// session layer.
type CookieStrategy struct {
	client     redis.UniversalClient
	cookieName string
	keyPrefix  string
	now        func() time.Time
}

// NewCookieStrategy builds the session-cookie strategy. Empty cookieName and
// keyPrefix select the platform defaults.
func NewCookieStrategy(client redis.UniversalClient, cookieName, keyPrefix string) *CookieStrategy {
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}
	if keyPrefix == "" {
		keyPrefix = "platform:session:"
	}
	return &CookieStrategy{client: client, cookieName: cookieName, keyPrefix: keyPrefix, now: time.Now}
}

func (s *CookieStrategy) Name() string { return "cookie" }

func (s *CookieStrategy) Extract(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (s *CookieStrategy) Resolve(ctx context.Context, credential string) (*Context, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+credential).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: unknown or expired session cookie", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("platform session lookup: %w", err)
	}
	var sess platformSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("platform session decode: %w", err)
	}
	if !sess.ExpiresAt.IsZero() && !sess.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: platform session expired", ErrInvalidCredential)
	}
	return &Context{
		TenantID: sess.TenantID,
		UserID:   sess.UserID,
		Email:    sess.Email,
		Roles:    sess.Roles,
	}, nil
}
