package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
)

// TenantToolConfig is a tenant's tool policy. The effective visible set is
// (tools whose category is enabled) minus DisabledTools, intersected with
// feature toggles matched against tool-name prefixes.
type TenantToolConfig struct {
	TenantID          string          `json:"tenant_id"`
	EnabledCategories []Category      `json:"enabled_categories"`
	DisabledTools     []string        `json:"disabled_tools,omitempty"`
	Features          map[string]bool `json:"features,omitempty"`
}

// Allows reports whether the config makes the given tool visible. It is a
// pure function: callers re-evaluate it per request so config changes take
// effect immediately.
func (c TenantToolConfig) Allows(d ToolDefinition) bool {
	if !slices.Contains(c.EnabledCategories, d.Category) {
		return false
	}
	if slices.Contains(c.DisabledTools, d.Name) {
		return false
	}
	for prefix, enabled := range c.Features {
		if !enabled && strings.HasPrefix(d.Name, prefix) {
			return false
		}
	}
	return true
}

// ConfigSource looks up a tenant's tool policy. Lookups happen per request;
// implementations must not cache across config changes.
type ConfigSource interface {
	Lookup(ctx context.Context, tenantID string) (TenantToolConfig, error)
}

// ErrTenantNotConfigured is returned when no policy exists for a tenant. The
// router treats this as an empty visible set.
var ErrTenantNotConfigured = errors.New("tenant not configured")

// StaticConfigSource serves a fixed map of tenant configs. Used in tests and
// single-tenant deployments.
type StaticConfigSource map[string]TenantToolConfig

func (s StaticConfigSource) Lookup(_ context.Context, tenantID string) (TenantToolConfig, error) {
	cfg, ok := s[tenantID]
	if !ok {
		return TenantToolConfig{}, fmt.Errorf("%w: %s", ErrTenantNotConfigured, tenantID)
	}
	return cfg, nil
}

// RedisConfigSource reads tenant configs from the shared store, where the
// platform's admin surface writes them. No caching: a config change is
// visible on the very next request.
type RedisConfigSource struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisConfigSource builds a config source over the given store. An empty
// keyPrefix selects "mcp:tenantcfg:".
func NewRedisConfigSource(client redis.UniversalClient, keyPrefix string) *RedisConfigSource {
	if keyPrefix == "" {
		keyPrefix = "mcp:tenantcfg:"
	}
	return &RedisConfigSource{client: client, keyPrefix: keyPrefix}
}

func (s *RedisConfigSource) Lookup(ctx context.Context, tenantID string) (TenantToolConfig, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+tenantID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TenantToolConfig{}, fmt.Errorf("%w: %s", ErrTenantNotConfigured, tenantID)
		}
		return TenantToolConfig{}, fmt.Errorf("tenant config lookup: %w", err)
	}
	var cfg TenantToolConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return TenantToolConfig{}, fmt.Errorf("tenant config decode: %w", err)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	return cfg, nil
}

// StoreTenantConfig writes a tenant config to the shared store. Exposed for
// provisioning tooling and tests.
func StoreTenantConfig(ctx context.Context, client redis.UniversalClient, keyPrefix string, cfg TenantToolConfig) error {
	if keyPrefix == "" {
		keyPrefix = "mcp:tenantcfg:"
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode tenant config: %w", err)
	}
	if err := client.Set(ctx, keyPrefix+cfg.TenantID, b, 0).Err(); err != nil {
		return fmt.Errorf("store tenant config: %w", err)
	}
	return nil
}
