package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cgk-platform/mcp-gateway/sessions"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(cl, ""), mr
}

func newSession(id string) *sessions.Session {
	now := time.Now()
	return &sessions.Session{
		ID:              id,
		TenantID:        "t1",
		UserID:          "u1",
		ProtocolVersion: "2025-06-18",
		State:           sessions.StateInitializing,
		CreatedAt:       now,
		LastActiveAt:    now,
	}
}

func TestCreateLoadRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))

	sess, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "t1", sess.TenantID)
	require.Equal(t, "u1", sess.UserID)
	require.Equal(t, "2025-06-18", sess.ProtocolVersion)
	require.Equal(t, sessions.StateInitializing, sess.State)
	require.Empty(t, sess.UsageCounters)

	_, err = s.Load(ctx, "missing")
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestTTLExpiryDiscardsSessionAndQueue(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))
	_, err := s.PushMessage(ctx, "s1", []byte("pending"))
	require.NoError(t, err)

	mr.FastForward(sessions.DefaultIdleTTL + time.Second)

	_, err = s.Load(ctx, "s1")
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
	require.ErrorIs(t, s.Touch(ctx, "s1", ""), sessions.ErrSessionNotFound)
	require.False(t, mr.Exists("mcp:sessions:stream:s1"), "expired session must drop its queue")
}

func TestTouchExtendsAndCounts(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))

	// Just short of expiry, a touch resets the idle window.
	mr.FastForward(50 * time.Second)
	require.NoError(t, s.Touch(ctx, "s1", "analytics"))
	mr.FastForward(50 * time.Second)
	require.NoError(t, s.Touch(ctx, "s1", "analytics"))

	sess, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(2), sess.UsageCounters["analytics"])
}

func TestMarkReady(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))
	require.NoError(t, s.MarkReady(ctx, "s1"))

	sess, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, sessions.StateReady, sess.State)
}

func TestMarkReadyOnExpiredSessionLeavesNoOrphan(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.MarkReady(ctx, "never-existed"), sessions.ErrSessionNotFound)

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))
	mr.FastForward(sessions.DefaultIdleTTL + time.Second)

	// An expired session must not be resurrected as a TTL-less hash.
	require.ErrorIs(t, s.MarkReady(ctx, "s1"), sessions.ErrSessionNotFound)
	require.False(t, mr.Exists("mcp:sessions:meta:s1"))
}

func TestSubscribeDeliversQueuedInOrder(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))

	var msgIDs []string
	for _, m := range []string{"a", "b", "c"} {
		id, err := s.PushMessage(ctx, "s1", []byte(m))
		require.NoError(t, err)
		msgIDs = append(msgIDs, id)
	}

	var got []string
	err := s.Subscribe(ctx, "s1", "0", func(_ context.Context, id string, p []byte) error {
		got = append(got, string(p))
		if len(got) == 3 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Len(t, msgIDs, 3)
}

func TestSubscribeResumesAfterCursor(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))

	var msgIDs []string
	for _, m := range []string{"a", "b", "c"} {
		id, err := s.PushMessage(ctx, "s1", []byte(m))
		require.NoError(t, err)
		msgIDs = append(msgIDs, id)
	}

	var got []string
	err := s.Subscribe(ctx, "s1", msgIDs[0], func(_ context.Context, id string, p []byte) error {
		got = append(got, string(p))
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"b", "c"}, got)
}

func TestPing(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	err := s.Ping(context.Background())
	require.ErrorIs(t, err, sessions.ErrStoreUnavailable)
}
