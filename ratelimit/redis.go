package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter limiter on a shared Redis store.
// Window buckets are keyed by floor(now / window); INCR provides the atomic
// increment-and-compare the admission invariant requires, so the limiter is
// safe across processes without any in-process locking.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisLimiter builds a limiter on the given client. An empty keyPrefix
// selects "mcp:ratelimit:".
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "mcp:ratelimit:"
	}
	return &RedisLimiter{client: client, keyPrefix: keyPrefix, now: time.Now}
}

var _ Limiter = (*RedisLimiter)(nil)

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, subjectKey string, limit int64, window time.Duration) (Decision, error) {
	// Buckets are keyed by whole seconds, so a sub-second window would divide
	// by zero below.
	if limit <= 0 || window < time.Second {
		return Decision{}, fmt.Errorf("ratelimit: limit must be positive and window at least one second")
	}

	now := l.now()
	windowSecs := int64(window / time.Second)
	windowStart := now.Unix() - now.Unix()%windowSecs
	key := l.keyPrefix + subjectKey + ":" + strconv.FormatInt(windowStart, 10)

	// INCR then EXPIRE in one round trip. The extra window of TTL slack lets
	// a bucket outlive its window slightly rather than risk an unexpiring key
	// if EXPIRE were skipped on a race.
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: admit %s: %w", subjectKey, err)
	}

	count := incr.Val()
	windowEnd := time.Unix(windowStart+windowSecs, 0)
	d := Decision{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = windowEnd.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}
