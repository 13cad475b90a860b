package ratelimit

import "time"

// Tier names a tool's rate-limit class. Tools declare a tier; the engine maps
// it to a Policy at admission time.
type Tier string

const (
	// TierStandard covers ordinary lookups.
	TierStandard Tier = "standard"
	// TierExpensive covers reporting/aggregation tools.
	TierExpensive Tier = "expensive"
	// TierBulk covers tools that fan out writes or exports.
	TierBulk Tier = "bulk"
)

// Policy is one limit/window pair.
type Policy struct {
	Limit  int64
	Window time.Duration
}

// DefaultTenantPolicy is the coarse per-tenant global limit.
var DefaultTenantPolicy = Policy{Limit: 100, Window: time.Minute}

// DefaultTierPolicies maps tool tiers to their limit/window pairs.
var DefaultTierPolicies = map[Tier]Policy{
	TierStandard:  {Limit: 60, Window: time.Minute},
	TierExpensive: {Limit: 10, Window: time.Minute},
	TierBulk:      {Limit: 5, Window: 5 * time.Minute},
}

// PolicyForTier returns the policy for a tier, falling back to the standard
// tier for unknown or empty values.
func PolicyForTier(tiers map[Tier]Policy, t Tier) Policy {
	if p, ok := tiers[t]; ok {
		return p
	}
	return tiers[TierStandard]
}
