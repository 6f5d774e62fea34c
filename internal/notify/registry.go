// internal/notify/registry.go

// Package notify pushes pending-permission announcements to out-of-band
// channels so a human notices the agent is blocked on approval. Notification
// is best-effort and never affects session state.
package notify

import (
	"log/slog"
	"sync"

	"github.com/user/sessionrelay/internal/types"
)

// Notifier announces one newly queued permission request.
type Notifier func(id types.SessionID, perm *types.Permission) error

// Registry fans permission announcements out to all registered notifiers.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates an empty notifier registry.
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds a notifier under the given name, replacing any previous one
// with the same name.
func (r *Registry) Register(name string, notifier Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[name] = notifier
}

// Announce calls every registered notifier. Failures are logged; one
// notifier's failure never stops the others.
func (r *Registry) Announce(id types.SessionID, perm *types.Permission) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, notifier := range r.notifiers {
		if err := notifier(id, perm); err != nil {
			slog.Error("permission notification failed",
				"notifier", name, "session_id", string(id),
				"permission_id", string(perm.ID), "error", err)
		}
	}
}
