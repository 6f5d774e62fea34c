// internal/stream/manager.go

// Package stream tracks the live downstream subscriptions for each session
// and fans state frames out to them.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/user/sessionrelay/internal/types"
)

// Frame is the shape of every payload frame a subscriber receives: the full
// current state, never a diff.
type Frame struct {
	SessionID types.SessionID     `json:"sessionID"`
	State     *types.SessionState `json:"state"`
}

// subscriberBuffer is the per-subscriber frame channel capacity. A subscriber
// that falls this far behind is treated as dead, same as a failed write.
const subscriberBuffer = 64

// Subscriber is one live downstream connection. It carries no session state;
// frames arrive pre-serialized on Frames and Done closes exactly once when
// the subscription ends.
type Subscriber struct {
	ID      types.SubscriberID
	Session types.SessionID

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// Frames delivers serialized frames in publish order.
func (s *Subscriber) Frames() <-chan []byte { return s.frames }

// Done is closed when the subscriber has been removed from the manager.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Manager tracks the set of live subscribers per session. It implements
// types.Sink: each published mutation is serialized once and pushed to every
// live handle; one handle's failure never blocks the others.
type Manager struct {
	mu       sync.Mutex
	sessions map[types.SessionID]map[types.SubscriberID]*Subscriber
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[types.SessionID]map[types.SubscriberID]*Subscriber),
	}
}

// Subscribe registers a new handle for the session and queues a full
// snapshot frame fetched through snapshot, all under the manager's lock.
// Registration and seeding are one atomic step: a mutation published while
// Subscribe runs waits for the lock, so it is either inside the snapshot or
// delivered as the next frame, never lost in between.
func (m *Manager) Subscribe(id types.SessionID, snapshot func() *types.SessionState) *Subscriber {
	sub := &Subscriber{
		ID:      types.NewSubscriberID(),
		Session: id,
		frames:  make(chan []byte, subscriberBuffer),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	set, ok := m.sessions[id]
	if !ok {
		set = make(map[types.SubscriberID]*Subscriber)
		m.sessions[id] = set
	}
	set[sub.ID] = sub

	data, err := json.Marshal(Frame{SessionID: id, State: snapshot()})
	if err != nil {
		slog.Error("marshal snapshot frame", "session_id", string(id), "error", err)
	} else {
		sub.frames <- data
	}
	m.mu.Unlock()

	slog.Debug("subscriber added", "session_id", string(id), "subscriber_id", string(sub.ID))
	return sub
}

// Unsubscribe removes the handle. When the session's set becomes empty the
// tracking entry is deleted; session state itself outlives its subscribers.
// Safe to call more than once.
func (m *Manager) Unsubscribe(sub *Subscriber) {
	m.mu.Lock()
	if set, ok := m.sessions[sub.Session]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(m.sessions, sub.Session)
		}
	}
	m.mu.Unlock()
	sub.close()
}

// Publish implements types.Sink. The frame is serialized once; a subscriber
// whose channel is full is dropped, same as one whose connection failed.
func (m *Manager) Publish(id types.SessionID, state *types.SessionState) {
	data, err := json.Marshal(Frame{SessionID: id, State: state})
	if err != nil {
		slog.Error("marshal state frame", "session_id", string(id), "error", err)
		return
	}

	m.mu.Lock()
	subs := make([]*Subscriber, 0, len(m.sessions[id]))
	for _, sub := range m.sessions[id] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.frames <- data:
		default:
			slog.Warn("slow subscriber dropped",
				"session_id", string(id), "subscriber_id", string(sub.ID))
			m.Unsubscribe(sub)
		}
	}
}

// Count returns the number of live subscribers for the session.
func (m *Manager) Count(id types.SessionID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[id])
}
