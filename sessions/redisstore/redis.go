// Package redisstore implements sessions.Store on Redis. Session metadata
// lives in a hash, pending push messages in a Redis stream; both share the
// session's idle TTL so expiry discards queued messages with the session.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/cgk-platform/mcp-gateway/sessions"
)

// pollInterval is how long one blocking read waits before re-checking for
// cancellation. It bounds push-message delivery latency.
const pollInterval = 200 * time.Millisecond

// Config for the Redis-backed session store. Defaults can be loaded via
// envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
}

// Store implements sessions.Store.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// New builds a Store over an existing client. An empty keyPrefix selects
// "mcp:sessions:".
func New(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "mcp:sessions:"
	}
	return &Store{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// NewFromEnv dials Redis using envdecode-populated Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(cl, cfg.KeyPrefix), nil
}

var _ sessions.Store = (*Store)(nil)

func (s *Store) metaKey(id string) string   { return s.keyPrefix + "meta:" + id }
func (s *Store) streamKey(id string) string { return s.keyPrefix + "stream:" + id }

// counterField prefixes usage-counter hash fields so they can be split back
// out of the metadata hash.
const counterField = "uc:"

func (s *Store) Create(ctx context.Context, sess *sessions.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = sessions.DefaultIdleTTL
	}
	fields := map[string]any{
		"tenant_id":        sess.TenantID,
		"user_id":          sess.UserID,
		"protocol_version": sess.ProtocolVersion,
		"state":            sess.State,
		"created_at":       sess.CreatedAt.UnixMilli(),
		"last_active_at":   sess.LastActiveAt.UnixMilli(),
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.metaKey(sess.ID), fields)
	pipe.Expire(ctx, s.metaKey(sess.ID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrapErr("create session", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID string) (*sessions.Session, error) {
	vals, err := s.client.HGetAll(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return nil, s.wrapErr("load session", err)
	}
	if len(vals) == 0 {
		return nil, sessions.ErrSessionNotFound
	}
	sess := &sessions.Session{
		ID:              sessionID,
		TenantID:        vals["tenant_id"],
		UserID:          vals["user_id"],
		ProtocolVersion: vals["protocol_version"],
		State:           vals["state"],
		CreatedAt:       parseMilli(vals["created_at"]),
		LastActiveAt:    parseMilli(vals["last_active_at"]),
		UsageCounters:   make(map[string]int64),
	}
	for k, v := range vals {
		if cat, ok := strings.CutPrefix(k, counterField); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			sess.UsageCounters[cat] = n
		}
	}
	return sess, nil
}

func (s *Store) Touch(ctx context.Context, sessionID string, category string) error {
	exists, err := s.client.Exists(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return s.wrapErr("touch session", err)
	}
	if exists == 0 {
		return sessions.ErrSessionNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.metaKey(sessionID), "last_active_at", s.now().UnixMilli())
	if category != "" {
		pipe.HIncrBy(ctx, s.metaKey(sessionID), counterField+category, 1)
	}
	pipe.Expire(ctx, s.metaKey(sessionID), sessions.DefaultIdleTTL)
	pipe.Expire(ctx, s.streamKey(sessionID), sessions.DefaultIdleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrapErr("touch session", err)
	}
	return nil
}

func (s *Store) MarkReady(ctx context.Context, sessionID string) error {
	exists, err := s.client.Exists(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return s.wrapErr("mark session ready", err)
	}
	if exists == 0 {
		return sessions.ErrSessionNotFound
	}
	// Re-apply the TTL alongside the write: a session expiring between the
	// existence check and the HSET must not be recreated as an unexpiring
	// orphan hash.
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.metaKey(sessionID), "state", sessions.StateReady)
	pipe.Expire(ctx, s.metaKey(sessionID), sessions.DefaultIdleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrapErr("mark session ready", err)
	}
	return nil
}

func (s *Store) PushMessage(ctx context.Context, sessionID string, payload []byte) (string, error) {
	pipe := s.client.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(sessionID),
		Values: map[string]any{"d": payload},
	})
	pipe.Expire(ctx, s.streamKey(sessionID), sessions.DefaultIdleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", s.wrapErr("push message", err)
	}
	return add.Val(), nil
}

func (s *Store) Subscribe(ctx context.Context, sessionID string, lastMessageID string, fn sessions.MessageHandlerFunc) error {
	key := s.streamKey(sessionID)
	cursor := lastMessageID
	if cursor == "" {
		cursor = "$"
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, cursor},
			Count:   16,
			Block:   pollInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return s.wrapErr("subscribe", err)
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			cursor = m.ID
			payload := decodeStreamPayload(m.Values["d"])
			if err := fn(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.wrapErr("ping", err)
	}
	return nil
}

func (s *Store) wrapErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sessions.ErrStoreUnavailable, err)
}

func parseMilli(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func decodeStreamPayload(v any) []byte {
	switch p := v.(type) {
	case string:
		return []byte(p)
	case []byte:
		return p
	default:
		return []byte(fmt.Sprintf("%v", p))
	}
}
