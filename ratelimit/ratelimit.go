// Package ratelimit implements admission control over a shared counter store.
//
// The algorithm is a fixed-window counter: each admission atomically
// increments the counter for the current window bucket and is granted iff the
// pre-increment count was below the limit. This approximates a sliding window
// (burst-at-boundary is possible) at O(1) cost per check against a replicated
// store. The Limiter interface keeps the algorithm a swappable policy.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request was admitted. Admission has already
	// consumed budget when true.
	Allowed bool
	// Remaining is the budget left in the current window after this check.
	Remaining int64
	// RetryAfter is the time until the current window closes. Populated on
	// denial so transports can emit a Retry-After header.
	RetryAfter time.Duration
}

// Limiter admits or rejects one request for a subject key.
type Limiter interface {
	// Admit atomically increments the subject's counter for the current
	// window and reports whether the request is within limit. Concurrent
	// calls against a near-exhausted bucket must never both be admitted past
	// the limit.
	Admit(ctx context.Context, subjectKey string, limit int64, window time.Duration) (Decision, error)
}

// TenantKey builds the per-tenant global subject key.
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// ToolKey builds the per-tenant per-tool subject key.
func ToolKey(tenantID, toolName string) string {
	return "tenant:" + tenantID + ":tool:" + toolName
}
