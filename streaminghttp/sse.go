package streaminghttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// lockedWriteFlusher serializes concurrent writes/flushes on a streaming
// response and refuses to write after the request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation.
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one Server-Sent Event frame and flushes it. An empty
// msgID omits the id field.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

// sseResponseSink upgrades a pending POST response to an SSE stream on the
// first chunk write. Before the first chunk the response is uncommitted, so
// a non-streaming outcome can still be sent as plain JSON.
type sseResponseSink struct {
	w       http.ResponseWriter
	wf      *lockedWriteFlusher
	prelude func(http.ResponseWriter)
	started bool
}

func (s *sseResponseSink) WriteChunk(ctx context.Context, payload []byte) error {
	if !s.started {
		s.prelude(s.w)
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.wf.Flush()
		s.started = true
	}
	return writeSSEEvent(s.wf, "", payload)
}

// Started reports whether the response has been committed to SSE.
func (s *sseResponseSink) Started() bool { return s.started }
