// internal/upstream/hydrate.go
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/sessionrelay/internal/types"
)

// HistorySource fetches a session's full message history. Satisfied by
// *Client.
type HistorySource interface {
	Messages(ctx context.Context, session types.SessionID) ([]*types.Message, error)
}

// Hydrator seeds local state for sessions the relay has not seen events for
// yet, by fetching their history and replaying it through the same merge
// path live events take. A weighted semaphore bounds concurrent fetches, and
// at most one hydration runs per session at a time; latecomers wait for it.
type Hydrator struct {
	source HistorySource
	apply  func(types.Event)
	sem    *semaphore.Weighted

	mu       sync.Mutex
	inflight map[types.SessionID]chan struct{}
}

// NewHydrator creates a Hydrator applying fetched messages via apply.
// maxConcurrent bounds simultaneous history fetches across all sessions.
func NewHydrator(source HistorySource, apply func(types.Event), maxConcurrent int64) *Hydrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Hydrator{
		source:   source,
		apply:    apply,
		sem:      semaphore.NewWeighted(maxConcurrent),
		inflight: make(map[types.SessionID]chan struct{}),
	}
}

// Hydrate fetches the session's message history and applies each message as
// a message-upserted event. If another hydration for the same session is in
// flight, Hydrate waits for it instead of fetching twice.
func (h *Hydrator) Hydrate(ctx context.Context, id types.SessionID) error {
	h.mu.Lock()
	if done, ok := h.inflight[id]; ok {
		h.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	h.inflight[id] = done
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.inflight, id)
		h.mu.Unlock()
		close(done)
	}()

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	messages, err := h.source.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("hydrate session %s: %w", id, err)
	}
	for _, msg := range messages {
		if msg.SessionID == "" {
			msg.SessionID = id
		}
		h.apply(&types.MessageUpdated{Info: msg})
	}
	slog.Debug("session hydrated", "session_id", string(id), "messages", len(messages))
	return nil
}
