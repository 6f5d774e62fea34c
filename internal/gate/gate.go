// internal/gate/gate.go

// Package gate withholds and later replays state frames for a session,
// closing the event-loss window while a browser tears down one subscription
// and opens another.
package gate

import (
	"log/slog"
	"sync"

	"github.com/user/sessionrelay/internal/types"
)

type frame struct {
	id    types.SessionID
	state *types.SessionState
}

// Gate sits between the store and the downstream connection manager. While
// buffering is enabled for a session its frames are held, in order; disabling
// replays them exactly once. A session that was never enabled passes through
// untouched.
type Gate struct {
	mu      sync.Mutex
	next    types.Sink
	enabled map[types.SessionID]bool
	held    map[types.SessionID][]frame
}

func New(next types.Sink) *Gate {
	return &Gate{
		next:    next,
		enabled: make(map[types.SessionID]bool),
		held:    make(map[types.SessionID][]frame),
	}
}

// Publish implements types.Sink. The lock is held across the pass-through
// call so a frame arriving while Disable is replaying cannot overtake the
// buffered frames ahead of it. next.Publish never blocks, so this is safe.
func (g *Gate) Publish(id types.SessionID, state *types.SessionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled[id] {
		g.held[id] = append(g.held[id], frame{id: id, state: state})
		return
	}
	g.next.Publish(id, state)
}

// Enable turns buffering on for the session. Idempotent.
func (g *Gate) Enable(id types.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled[id] {
		return
	}
	g.enabled[id] = true
	slog.Debug("buffering enabled", "session_id", string(id))
}

// Disable turns buffering off and replays any held frames in original order.
// Disabling with nothing held (or when never enabled) is a no-op.
func (g *Gate) Disable(id types.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pending := g.held[id]
	delete(g.held, id)
	delete(g.enabled, id)

	if len(pending) > 0 {
		slog.Debug("buffering disabled, replaying", "session_id", string(id), "frames", len(pending))
	}
	for _, f := range pending {
		g.next.Publish(f.id, f.state)
	}
}

// Buffering reports whether the session is currently buffered.
func (g *Gate) Buffering(id types.SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled[id]
}
