package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLimiter(cl, "")
	// Pin the clock mid-window so the test never straddles a bucket boundary.
	base := time.Unix(1_700_000_010, 0)
	l.now = func() time.Time { return base }
	return l
}

func TestAdmitUntilLimitThenDeny(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	const limit = 5
	for i := 0; i < limit; i++ {
		d, err := l.Admit(ctx, TenantKey("t1"), limit, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		require.Equal(t, int64(limit-i-1), d.Remaining)
	}

	d, err := l.Admit(ctx, TenantKey("t1"), limit, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestAdmitIsolatesSubjects(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	d, err := l.Admit(ctx, TenantKey("t1"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Admit(ctx, TenantKey("t1"), 1, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// A different tenant and a tool-scoped key are untouched.
	d, err = l.Admit(ctx, TenantKey("t2"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Admit(ctx, ToolKey("t1", "commerce_list_orders"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestAdmitNewWindowResets(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	d, err := l.Admit(ctx, TenantKey("t1"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Admit(ctx, TenantKey("t1"), 1, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Jump past the window boundary: a fresh bucket admits again.
	base := l.now().Add(2 * time.Minute)
	l.now = func() time.Time { return base }
	d, err = l.Admit(ctx, TenantKey("t1"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestAdmitConcurrentNeverOverAdmits(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	const limit = 10
	const attempts = 40
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(ctx, TenantKey("hot"), limit, time.Minute)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(limit), admitted.Load())
}

func TestAdmitRejectsBadPolicy(t *testing.T) {
	l := newLimiter(t)
	_, err := l.Admit(context.Background(), "x", 0, time.Minute)
	require.Error(t, err)
	_, err = l.Admit(context.Background(), "x", 5, 0)
	require.Error(t, err)
	// Sub-second windows cannot form a whole-second bucket.
	_, err = l.Admit(context.Background(), "x", 5, 500*time.Millisecond)
	require.Error(t, err)
}

func TestPolicyForTierFallback(t *testing.T) {
	p := PolicyForTier(DefaultTierPolicies, TierBulk)
	require.Equal(t, DefaultTierPolicies[TierBulk], p)

	p = PolicyForTier(DefaultTierPolicies, Tier("unknown"))
	require.Equal(t, DefaultTierPolicies[TierStandard], p)

	p = PolicyForTier(DefaultTierPolicies, "")
	require.Equal(t, DefaultTierPolicies[TierStandard], p)
}
