package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cgk-platform/mcp-gateway/sessions"
)

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

func TestCreateLoadMarkReady(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))

	sess, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, sessions.StateInitializing, sess.State)

	require.NoError(t, s.MarkReady(ctx, "s1"))
	sess, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, sessions.StateReady, sess.State)

	_, err = s.Load(ctx, "nope")
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestTouchCountsUsageAndExtends(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))
	require.NoError(t, s.Touch(ctx, "s1", "commerce"))
	require.NoError(t, s.Touch(ctx, "s1", "commerce"))
	require.NoError(t, s.Touch(ctx, "s1", ""))

	sess, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(2), sess.UsageCounters["commerce"])

	// 50s later: within the touched TTL.
	now = now.Add(50 * time.Second)
	require.NoError(t, s.Touch(ctx, "s1", ""))

	// Another 61s with no touches: expired, and its queue is gone with it.
	now = now.Add(61 * time.Second)
	_, err = s.Load(ctx, "s1")
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
	require.ErrorIs(t, s.Touch(ctx, "s1", ""), sessions.ErrSessionNotFound)
	_, err = s.PushMessage(ctx, "s1", []byte("late"))
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))

	var ids []string
	var payloads []string
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, "s1", "0", func(_ context.Context, id string, p []byte) error {
			ids = append(ids, id)
			payloads = append(payloads, string(p))
			if len(payloads) == 3 {
				cancel()
			}
			return nil
		})
	}()

	for _, m := range []string{"a", "b", "c"} {
		_, err := s.PushMessage(ctx, "s1", []byte(m))
		require.NoError(t, err)
	}

	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, []string{"a", "b", "c"}, payloads)
	require.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestSubscribeResumesAfterLastMessageID(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Create(ctx, newSession("s1"), time.Minute))
	for _, m := range []string{"a", "b", "c"} {
		_, err := s.PushMessage(ctx, "s1", []byte(m))
		require.NoError(t, err)
	}

	var payloads []string
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, "s1", "1", func(_ context.Context, id string, p []byte) error {
			payloads = append(payloads, string(p))
			if len(payloads) == 2 {
				cancel()
			}
			return nil
		})
	}()

	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, []string{"b", "c"}, payloads)
}
