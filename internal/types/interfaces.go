// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

// Clock abstracts time so stores can be constructed fresh per test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock used by the composition root.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sink receives the full state of a session after each mutation. The state is
// a snapshot owned by the receiver; implementations must not assume it tracks
// later mutations.
type Sink interface {
	Publish(id SessionID, state *SessionState)
}

// AgentClient is the upstream command surface. Results of SendMessage and
// RespondPermission are observed later through the event feed, never as a
// synchronous state change.
type AgentClient interface {
	Messages(ctx context.Context, session SessionID) ([]*Message, error)
	SendMessage(ctx context.Context, session SessionID, text string) error
	RespondPermission(ctx context.Context, session SessionID, permission PermissionID, response PermissionResponse) error
}
