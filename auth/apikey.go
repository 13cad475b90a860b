package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// APIKeyHeader is the header carrying static API-key credentials.
const APIKeyHeader = "X-Api-Key"

// apiKeyRecord is the stored shape of a provisioned API key. Keys are stored
// under their SHA-256 hash; the plaintext key never touches the store.
type apiKeyRecord struct {
	TenantID  string     `json:"tenant_id"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	Roles     []string   `json:"roles,omitempty"`
	Revoked   bool       `json:"revoked,omitzero"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// APIKeyStrategy resolves X-API-Key credentials against the shared store.
type APIKeyStrategy struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewAPIKeyStrategy builds the API-key strategy backed by the given store.
func NewAPIKeyStrategy(client redis.UniversalClient, keyPrefix string) *APIKeyStrategy {
	if keyPrefix == "" {
		keyPrefix = "mcp:apikey:"
	}
	return &APIKeyStrategy{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *APIKeyStrategy) Name() string { return "api_key" }

func (s *APIKeyStrategy) Extract(r *http.Request) (string, bool) {
	k := r.Header.Get(APIKeyHeader)
	return k, k != ""
}

func (s *APIKeyStrategy) Resolve(ctx context.Context, credential string) (*Context, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+HashKey(credential)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The key header was presented, so this is a recognized
			// credential kind that failed validation.
			return nil, fmt.Errorf("%w: unknown api key", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("api key lookup: %w", err)
	}
	var rec apiKeyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("api key record decode: %w", err)
	}
	if rec.Revoked {
		return nil, fmt.Errorf("%w: api key revoked", ErrInvalidCredential)
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: api key expired", ErrInvalidCredential)
	}
	return &Context{
		TenantID: rec.TenantID,
		UserID:   rec.UserID,
		Email:    rec.Email,
		Roles:    rec.Roles,
	}, nil
}

// HashKey returns the hex SHA-256 digest under which an API key is stored.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ProvisionAPIKey writes an API key record to the store. Exposed for
// provisioning tooling and tests; the platform's admin surface owns key
// lifecycle in production.
func ProvisionAPIKey(ctx context.Context, client redis.UniversalClient, keyPrefix, plaintext string, tenantID, userID, email string, roles []string, expiresAt *time.Time) error {
	if keyPrefix == "" {
		keyPrefix = "mcp:apikey:"
	}
	rec := apiKeyRecord{TenantID: tenantID, UserID: userID, Email: email, Roles: roles, ExpiresAt: expiresAt}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode api key record: %w", err)
	}
	var ttl time.Duration
	if expiresAt != nil {
		ttl = time.Until(*expiresAt)
	}
	if err := client.Set(ctx, keyPrefix+HashKey(plaintext), b, ttl).Err(); err != nil {
		return fmt.Errorf("store api key record: %w", err)
	}
	return nil
}
