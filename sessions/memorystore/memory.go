// Package memorystore implements sessions.Store in process memory. It exists
// for tests and single-instance development; production deployments use
// redisstore so sessions survive instance churn.
package memorystore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cgk-platform/mcp-gateway/sessions"
)

type queuedMessage struct {
	id      int64
	payload []byte
}

type entry struct {
	sess     sessions.Session
	ttl      time.Duration
	deadline time.Time
	messages []queuedMessage
	nextID   int64
}

// Store implements sessions.Store in memory.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	wake    chan struct{}
	now     func() time.Time
}

// New builds an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		wake:    make(chan struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the time source, for expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var _ sessions.Store = (*Store)(nil)

// live returns the entry iff it has not expired. Caller holds the lock.
func (s *Store) live(id string) *entry {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	if s.now().After(e.deadline) {
		delete(s.entries, id)
		return nil
	}
	return e
}

func (s *Store) notify() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Store) Create(_ context.Context, sess *sessions.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = sessions.DefaultIdleTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.UsageCounters = make(map[string]int64)
	s.entries[sess.ID] = &entry{
		sess:     cp,
		ttl:      ttl,
		deadline: s.now().Add(ttl),
		nextID:   1,
	}
	return nil
}

func (s *Store) Load(_ context.Context, sessionID string) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(sessionID)
	if e == nil {
		return nil, sessions.ErrSessionNotFound
	}
	cp := e.sess
	cp.UsageCounters = make(map[string]int64, len(e.sess.UsageCounters))
	for k, v := range e.sess.UsageCounters {
		cp.UsageCounters[k] = v
	}
	return &cp, nil
}

func (s *Store) Touch(_ context.Context, sessionID string, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(sessionID)
	if e == nil {
		return sessions.ErrSessionNotFound
	}
	e.sess.LastActiveAt = s.now()
	e.deadline = s.now().Add(e.ttl)
	if category != "" {
		e.sess.UsageCounters[category]++
	}
	return nil
}

func (s *Store) MarkReady(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(sessionID)
	if e == nil {
		return sessions.ErrSessionNotFound
	}
	e.sess.State = sessions.StateReady
	return nil
}

func (s *Store) PushMessage(_ context.Context, sessionID string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(sessionID)
	if e == nil {
		return "", sessions.ErrSessionNotFound
	}
	id := e.nextID
	e.nextID++
	e.messages = append(e.messages, queuedMessage{id: id, payload: payload})
	s.notify()
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) Subscribe(ctx context.Context, sessionID string, lastMessageID string, fn sessions.MessageHandlerFunc) error {
	cursor, _ := strconv.ParseInt(lastMessageID, 10, 64)
	if lastMessageID == "" {
		// Start from new messages only.
		s.mu.Lock()
		if e := s.live(sessionID); e != nil {
			cursor = e.nextID - 1
		}
		s.mu.Unlock()
	}
	for {
		s.mu.Lock()
		wake := s.wake
		var pending []queuedMessage
		if e := s.live(sessionID); e != nil {
			for _, m := range e.messages {
				if m.id > cursor {
					pending = append(pending, m)
				}
			}
		}
		s.mu.Unlock()

		for _, m := range pending {
			if err := fn(ctx, strconv.FormatInt(m.id, 10), m.payload); err != nil {
				return err
			}
			cursor = m.id
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func (s *Store) Ping(context.Context) error { return nil }
