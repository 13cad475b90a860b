// Package sessions models the gateway's logical client connection windows and
// the durable store that backs them. Server instances share no memory, so all
// session state, including pending server-push messages, lives in an external
// store keyed by session ID with an inactivity TTL.
package sessions

import (
	"context"
	"errors"
	"time"
)

// DefaultIdleTTL is the inactivity window after which a session expires and
// its pending push messages are discarded.
const DefaultIdleTTL = 5 * time.Minute

// Session state values.
const (
	// StateInitializing covers the window between initialize and the
	// notifications/initialized acknowledgment.
	StateInitializing = "initializing"
	// StateReady marks a fully established session.
	StateReady = "ready"
)

// Session is one logical client connection window, not a TCP connection.
type Session struct {
	ID              string
	TenantID        string
	UserID          string
	ProtocolVersion string
	State           string
	CreatedAt       time.Time
	LastActiveAt    time.Time
	// UsageCounters counts calls per tool category for the session's
	// lifetime.
	UsageCounters map[string]int64
}

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrStoreUnavailable wraps infrastructure failures reaching the shared
// store. The server-push endpoint degrades to a synchronous capability
// payload when it observes this.
var ErrStoreUnavailable = errors.New("session store unavailable")

// MessageHandlerFunc receives one queued push message during Subscribe.
type MessageHandlerFunc func(ctx context.Context, messageID string, payload []byte) error

// Store is the durable, shared session store.
type Store interface {
	// Create persists a new session with the given idle TTL.
	Create(ctx context.Context, sess *Session, ttl time.Duration) error
	// Load fetches a session by ID, returning ErrSessionNotFound for unknown
	// or expired IDs.
	Load(ctx context.Context, sessionID string) (*Session, error)
	// Touch refreshes the idle TTL, records activity time, and increments the
	// usage counter for the given category (empty category skips counting).
	Touch(ctx context.Context, sessionID string, category string) error
	// MarkReady transitions a session out of the initializing state.
	MarkReady(ctx context.Context, sessionID string) error
	// PushMessage appends a payload to the session's push queue and returns
	// the assigned message ID. Queued messages share the session's TTL.
	PushMessage(ctx context.Context, sessionID string, payload []byte) (string, error)
	// Subscribe delivers queued push messages in FIFO order until ctx is
	// canceled. lastMessageID resumes after a previously delivered message;
	// empty starts from new messages only.
	Subscribe(ctx context.Context, sessionID string, lastMessageID string, fn MessageHandlerFunc) error
	// Ping reports store reachability, for degraded-mode detection.
	Ping(ctx context.Context) error
}
