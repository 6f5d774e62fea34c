// internal/store/store.go
package store

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/user/sessionrelay/internal/types"
)

// PermissionHook is called when a previously unseen permission request is
// queued. Used for out-of-band notification; never for state.
type PermissionHook func(id types.SessionID, perm *types.Permission)

// Store holds all per-session aggregates and is the single place upstream
// events are merged. Apply serializes mutations; everything handed out is a
// deep copy.
type Store struct {
	mu       sync.Mutex
	clock    types.Clock
	sessions map[types.SessionID]*types.SessionState
	sink     types.Sink
	onPerm   PermissionHook

	// Publish tickets keep sink delivery in merge order when Apply is
	// called from more than one goroutine (ingest loop and hydration).
	// Tickets are issued under mu; pubMu is acquired only after mu is
	// released, so a subscriber snapshot read never deadlocks against an
	// in-flight publish.
	nextTicket uint64 // guarded by mu
	pubMu      sync.Mutex
	pubCond    *sync.Cond
	nowServing uint64 // guarded by pubMu
}

// New creates a Store publishing every mutation to sink.
func New(clock types.Clock, sink types.Sink) *Store {
	s := &Store{
		clock:    clock,
		sessions: make(map[types.SessionID]*types.SessionState),
		sink:     sink,
	}
	s.pubCond = sync.NewCond(&s.pubMu)
	return s
}

// SetPermissionHook installs an optional callback for newly queued
// permissions. Must be set before Apply is first called.
func (s *Store) SetPermissionHook(fn PermissionHook) {
	s.onPerm = fn
}

// Apply merges one decoded event. Events without a routable session id, and
// unrecognized kinds, are dropped. Every merge bumps LastUpdate and publishes
// a snapshot to the sink before Apply returns, so delivery order equals merge
// order.
func (s *Store) Apply(ev types.Event) {
	if _, ok := ev.(*types.UnknownEvent); ok {
		return
	}
	id := ev.Session()
	if id == "" {
		slog.Debug("event without session id dropped")
		return
	}

	s.mu.Lock()
	state, ok := s.sessions[id]
	if !ok {
		state = types.NewSessionState()
		s.sessions[id] = state
	}

	var announced *types.Permission
	switch e := ev.(type) {
	case *types.MessageUpdated:
		upsertMessage(state, e.Info)
	case *types.MessageRemoved:
		removeMessage(state, e.MessageID)
	case *types.PartUpdated:
		upsertPart(state, e.Part)
	case *types.PartRemoved:
		removePart(state, e.MessageID, e.PartID)
	case *types.PermissionUpdated:
		announced = queuePermission(state, e.Permission)
	case *types.PermissionReplied:
		resolvePermission(state, e.PermissionID)
	}

	now := s.clock.Now()
	if now.After(state.LastUpdate) {
		state.LastUpdate = now
	}
	sort.SliceStable(state.Messages, func(i, j int) bool {
		return state.Messages[i].CreatedAt.Before(state.Messages[j].CreatedAt)
	})
	snapshot := state.Clone()
	ticket := s.nextTicket
	s.nextTicket++
	s.mu.Unlock()

	s.pubMu.Lock()
	for ticket != s.nowServing {
		s.pubCond.Wait()
	}
	s.sink.Publish(id, snapshot)
	s.nowServing++
	s.pubCond.Broadcast()
	s.pubMu.Unlock()

	if announced != nil && s.onPerm != nil {
		s.onPerm(id, announced)
	}
}

// Snapshot returns a deep copy of the session's state, or false if the
// session has never been referenced.
func (s *Store) Snapshot(id types.SessionID) (*types.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Has reports whether any event has referenced the session.
func (s *Store) Has(id types.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// Sessions returns the ids of all known sessions.
func (s *Store) Sessions() []types.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]types.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// HasPermission reports whether the permission is still pending for the
// session. Used by respond() to make duplicate clicks a no-op.
func (s *Store) HasPermission(id types.SessionID, perm types.PermissionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[id]
	if !ok {
		return false
	}
	_, ok = state.Permissions.ByID[perm]
	return ok
}

func findMessage(state *types.SessionState, id types.MessageID) *types.Message {
	for _, msg := range state.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// upsertMessage replaces an existing message by id or appends a new one.
// The upstream re-sends message info without parts on metadata changes, so a
// replacement without parts keeps the parts already accumulated.
func upsertMessage(state *types.SessionState, info *types.Message) {
	if info == nil || info.ID == "" {
		return
	}
	existing := findMessage(state, info.ID)
	if existing == nil {
		if info.Parts == nil {
			info.Parts = []*types.Part{}
		}
		state.Messages = append(state.Messages, info)
		reindexToolParts(state, info)
		return
	}
	if info.Parts == nil {
		info.Parts = existing.Parts
	}
	*existing = *info
	reindexToolParts(state, existing)
}

// reindexToolParts rebuilds the tool-call index entries for one message from
// its current parts. Messages can arrive with parts inline (hydrated history,
// or a replacement list that drops parts), so the index kept by upsertPart
// has to be reconciled here too.
func reindexToolParts(state *types.SessionState, msg *types.Message) {
	for call, ref := range state.ToolsByCall {
		if ref.MessageID == msg.ID {
			delete(state.ToolsByCall, call)
		}
	}
	for _, part := range msg.Parts {
		if part.Type == types.PartTool && part.CallID != "" && part.Status != "" {
			state.ToolsByCall[part.CallID] = &types.ToolRef{
				MessageID: msg.ID,
				PartID:    part.ID,
			}
		}
	}
}

func removeMessage(state *types.SessionState, id types.MessageID) {
	kept := state.Messages[:0]
	for _, msg := range state.Messages {
		if msg.ID != id {
			kept = append(kept, msg)
		}
	}
	state.Messages = kept
	for call, ref := range state.ToolsByCall {
		if ref.MessageID == id {
			delete(state.ToolsByCall, call)
		}
	}
}

// upsertPart mutates a part in place by id, appending it if unseen. A part
// whose owning message has not arrived yet is dropped; the upstream re-sends
// parts after the message upsert, so nothing is resurrected here.
func upsertPart(state *types.SessionState, part *types.Part) {
	if part == nil || part.ID == "" {
		return
	}
	msg := findMessage(state, part.MessageID)
	if msg == nil {
		slog.Debug("part for unknown message dropped",
			"message_id", string(part.MessageID), "part_id", string(part.ID))
		return
	}
	replaced := false
	for i, existing := range msg.Parts {
		if existing.ID == part.ID {
			msg.Parts[i] = part
			replaced = true
			break
		}
	}
	if !replaced {
		msg.Parts = append(msg.Parts, part)
	}
	if part.Type == types.PartTool && part.CallID != "" && part.Status != "" {
		state.ToolsByCall[part.CallID] = &types.ToolRef{
			MessageID: part.MessageID,
			PartID:    part.ID,
		}
	}
}

func removePart(state *types.SessionState, msgID types.MessageID, partID types.PartID) {
	msg := findMessage(state, msgID)
	if msg != nil {
		kept := msg.Parts[:0]
		for _, part := range msg.Parts {
			if part.ID != partID {
				kept = append(kept, part)
			}
		}
		msg.Parts = kept
	}
	for call, ref := range state.ToolsByCall {
		if ref.MessageID == msgID && ref.PartID == partID {
			delete(state.ToolsByCall, call)
		}
	}
}

// queuePermission inserts a permission if its id is unseen. Returns the
// permission when it was newly queued, nil on a duplicate announcement.
func queuePermission(state *types.SessionState, perm *types.Permission) *types.Permission {
	if perm == nil || perm.ID == "" {
		return nil
	}
	if _, seen := state.Permissions.ByID[perm.ID]; seen {
		return nil
	}
	state.Permissions.ByID[perm.ID] = perm
	state.Permissions.Queue = append(state.Permissions.Queue, perm.ID)
	if state.Permissions.ActiveID == "" {
		state.Permissions.ActiveID = perm.ID
	}
	return perm
}

func resolvePermission(state *types.SessionState, id types.PermissionID) {
	if _, ok := state.Permissions.ByID[id]; !ok {
		return
	}
	delete(state.Permissions.ByID, id)
	kept := state.Permissions.Queue[:0]
	for _, qid := range state.Permissions.Queue {
		if qid != id {
			kept = append(kept, qid)
		}
	}
	state.Permissions.Queue = kept
	if state.Permissions.ActiveID == id {
		if len(state.Permissions.Queue) > 0 {
			state.Permissions.ActiveID = state.Permissions.Queue[0]
		} else {
			state.Permissions.ActiveID = ""
		}
	}
}
