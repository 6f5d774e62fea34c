// internal/journal/journal.go

// Package journal appends decoded upstream events to per-session JSONL
// files. It is a debugging aid: entries are written, never read back to
// restore state.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/sessionrelay/internal/types"
)

// Entry is one journaled event.
type Entry struct {
	At      time.Time       `json:"at"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Journal is a JSONL-backed append-only event log, one file per session at
// sessions/<sessionID>/events.jsonl under the root directory.
type Journal struct {
	root  string
	clock types.Clock
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// New creates a Journal rooted at the given directory.
func New(root string, clock types.Clock) *Journal {
	return &Journal{
		root:  root,
		clock: clock,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (j *Journal) getLock(id types.SessionID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()

	if lock, ok := j.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[id] = lock
	return lock
}

func (j *Journal) eventsPath(id types.SessionID) string {
	return filepath.Join(j.root, "sessions", string(id), "events.jsonl")
}

// Record appends one decoded event to its session's log. Events without a
// session id (including unknown kinds) are skipped.
func (j *Journal) Record(ev types.Event) error {
	id := ev.Session()
	if id == "" {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	entry := Entry{At: j.clock.Now(), Kind: kindOf(ev), Payload: payload}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	lock := j.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(j.eventsPath(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(j.eventsPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func kindOf(ev types.Event) string {
	switch ev.(type) {
	case *types.MessageUpdated:
		return types.KindMessageUpdated
	case *types.MessageRemoved:
		return types.KindMessageRemoved
	case *types.PartUpdated:
		return types.KindPartUpdated
	case *types.PartRemoved:
		return types.KindPartRemoved
	case *types.PermissionUpdated:
		return types.KindPermissionUpdated
	case *types.PermissionReplied:
		return types.KindPermissionReplied
	default:
		return "unknown"
	}
}
