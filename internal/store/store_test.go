// internal/store/store_test.go
package store

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/user/sessionrelay/internal/types"
)

// fakeClock advances a fixed step on every read so LastUpdate is strictly
// increasing and assertable.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// recordingSink captures every published frame.
type recordingSink struct {
	ids    []types.SessionID
	states []*types.SessionState
}

func (s *recordingSink) Publish(id types.SessionID, state *types.SessionState) {
	s.ids = append(s.ids, id)
	s.states = append(s.states, state)
}

func newTestStore() (*Store, *recordingSink) {
	sink := &recordingSink{}
	return New(&fakeClock{now: time.Unix(1000, 0)}, sink), sink
}

func message(id types.MessageID, session types.SessionID, created int64) *types.Message {
	return &types.Message{
		ID:        id,
		SessionID: session,
		Role:      types.RoleUser,
		CreatedAt: time.Unix(created, 0),
	}
}

func toolPart(id types.PartID, msg types.MessageID, session types.SessionID, call types.CallID, status types.ToolStatus) *types.Part {
	return &types.Part{
		ID:        id,
		SessionID: session,
		MessageID: msg,
		Type:      types.PartTool,
		Tool:      "bash",
		CallID:    call,
		Status:    status,
	}
}

func TestLazySessionCreation(t *testing.T) {
	st, sink := newTestStore()
	if st.Has("s1") {
		t.Fatal("session should not exist yet")
	}
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	if !st.Has("s1") {
		t.Fatal("session should be created by first event")
	}
	if len(sink.ids) != 1 || sink.ids[0] != "s1" {
		t.Fatalf("expected one publish for s1, got %v", sink.ids)
	}
}

func TestMessageUpsertReplacesAndAppends(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	st.Apply(&types.MessageUpdated{Info: message("m2", "s1", 200)})

	updated := message("m1", "s1", 100)
	updated.Role = types.RoleAssistant
	st.Apply(&types.MessageUpdated{Info: updated})

	state, _ := st.Snapshot("s1")
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	if state.Messages[0].Role != types.RoleAssistant {
		t.Error("replacement did not take effect")
	}
}

func TestMessageOrderingByCreation(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("late", "s1", 300)})
	st.Apply(&types.MessageUpdated{Info: message("early", "s1", 100)})
	st.Apply(&types.MessageUpdated{Info: message("middle", "s1", 200)})

	state, _ := st.Snapshot("s1")
	var got []types.MessageID
	for _, msg := range state.Messages {
		got = append(got, msg.ID)
	}
	want := []types.MessageID{"early", "middle", "late"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected order %v, got %v", want, got)
	}
}

func TestMessageOrderingTiesAreStable(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("first", "s1", 100)})
	st.Apply(&types.MessageUpdated{Info: message("second", "s1", 100)})

	state, _ := st.Snapshot("s1")
	if state.Messages[0].ID != "first" || state.Messages[1].ID != "second" {
		t.Errorf("tie broken out of arrival order: %s, %s",
			state.Messages[0].ID, state.Messages[1].ID)
	}
}

func TestMessageUpdateKeepsParts(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	st.Apply(&types.PartUpdated{Part: toolPart("p1", "m1", "s1", "c1", types.ToolRunning)})

	// Metadata-only update without parts must not wipe accumulated parts.
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})

	state, _ := st.Snapshot("s1")
	if len(state.Messages[0].Parts) != 1 {
		t.Fatalf("expected 1 part after message re-upsert, got %d", len(state.Messages[0].Parts))
	}
}

func TestPartUpsertIsIdempotent(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})

	part := toolPart("p1", "m1", "s1", "c1", types.ToolRunning)
	st.Apply(&types.PartUpdated{Part: part})
	once, _ := st.Snapshot("s1")

	same := toolPart("p1", "m1", "s1", "c1", types.ToolRunning)
	st.Apply(&types.PartUpdated{Part: same})
	twice, _ := st.Snapshot("s1")

	if len(twice.Messages[0].Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(twice.Messages[0].Parts))
	}
	if !reflect.DeepEqual(once.Messages[0].Parts[0], twice.Messages[0].Parts[0]) {
		t.Error("replaying the same part event changed the final state")
	}
}

func TestToolIndexFollowsPartLifecycle(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	st.Apply(&types.PartUpdated{Part: toolPart("p1", "m1", "s1", "c1", types.ToolPending)})

	state, _ := st.Snapshot("s1")
	ref, ok := state.ToolsByCall["c1"]
	if !ok {
		t.Fatal("expected tool index entry for c1")
	}
	if ref.MessageID != "m1" || ref.PartID != "p1" {
		t.Errorf("unexpected ref: %+v", ref)
	}

	st.Apply(&types.PartRemoved{SessionID: "s1", MessageID: "m1", PartID: "p1"})
	state, _ = st.Snapshot("s1")
	if _, ok := state.ToolsByCall["c1"]; ok {
		t.Error("tool index entry should be removed with its part")
	}
	if len(state.Messages[0].Parts) != 0 {
		t.Error("part should be removed")
	}
}

func TestMessageRemoveCascadesToolIndex(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	st.Apply(&types.MessageUpdated{Info: message("m2", "s1", 200)})
	st.Apply(&types.PartUpdated{Part: toolPart("p1", "m1", "s1", "c1", types.ToolCompleted)})
	st.Apply(&types.PartUpdated{Part: toolPart("p2", "m2", "s1", "c2", types.ToolRunning)})

	st.Apply(&types.MessageRemoved{SessionID: "s1", MessageID: "m1"})

	state, _ := st.Snapshot("s1")
	if len(state.Messages) != 1 || state.Messages[0].ID != "m2" {
		t.Fatalf("expected only m2 to remain, got %+v", state.Messages)
	}
	if _, ok := state.ToolsByCall["c1"]; ok {
		t.Error("index entry owned by removed message should be gone")
	}
	if _, ok := state.ToolsByCall["c2"]; !ok {
		t.Error("index entry of surviving message should remain")
	}
}

func TestPartForUnknownMessageDropped(t *testing.T) {
	st, sink := newTestStore()
	st.Apply(&types.PartUpdated{Part: toolPart("p1", "ghost", "s1", "c1", types.ToolRunning)})

	state, _ := st.Snapshot("s1")
	if len(state.Messages) != 0 {
		t.Error("no message should be invented for an orphan part")
	}
	if len(state.ToolsByCall) != 0 {
		t.Error("orphan part must not index a tool call")
	}
	// The event still referenced the session, so the session exists and the
	// mutation was published.
	if len(sink.ids) != 1 {
		t.Errorf("expected 1 publish, got %d", len(sink.ids))
	}
}

func TestPermissionDedup(t *testing.T) {
	st, _ := newTestStore()
	perm := &types.Permission{ID: "p1", SessionID: "s1", Title: "Run bash?"}
	st.Apply(&types.PermissionUpdated{Permission: perm})
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "Run bash?"}})

	state, _ := st.Snapshot("s1")
	if len(state.Permissions.Queue) != 1 {
		t.Fatalf("expected 1 queue entry, got %d", len(state.Permissions.Queue))
	}
	if state.Permissions.ActiveID != "p1" {
		t.Errorf("expected active p1, got %s", state.Permissions.ActiveID)
	}
}

func TestPermissionLifecycle(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})
	st.Apply(&types.PermissionReplied{SessionID: "s1", PermissionID: "p1"})

	state, _ := st.Snapshot("s1")
	if len(state.Permissions.Queue) != 0 {
		t.Errorf("expected empty queue, got %v", state.Permissions.Queue)
	}
	if len(state.Permissions.ByID) != 0 {
		t.Errorf("expected empty byId, got %v", state.Permissions.ByID)
	}
	if state.Permissions.ActiveID != "" {
		t.Errorf("expected unset active id, got %s", state.Permissions.ActiveID)
	}
}

func TestPermissionQueueAdvancesActive(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p2", SessionID: "s1", Title: "two"}})
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p3", SessionID: "s1", Title: "three"}})

	st.Apply(&types.PermissionReplied{SessionID: "s1", PermissionID: "p1"})
	state, _ := st.Snapshot("s1")
	if state.Permissions.ActiveID != "p2" {
		t.Errorf("expected active p2, got %s", state.Permissions.ActiveID)
	}

	// Replying to a non-head entry keeps the head active.
	st.Apply(&types.PermissionReplied{SessionID: "s1", PermissionID: "p3"})
	state, _ = st.Snapshot("s1")
	if state.Permissions.ActiveID != "p2" {
		t.Errorf("expected active p2, got %s", state.Permissions.ActiveID)
	}
	if len(state.Permissions.Queue) != 1 {
		t.Errorf("expected 1 entry, got %v", state.Permissions.Queue)
	}
}

func TestReplyToAbsentPermission(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})
	before, _ := st.Snapshot("s1")

	st.Apply(&types.PermissionReplied{SessionID: "s1", PermissionID: "ghost"})
	after, _ := st.Snapshot("s1")

	if len(after.Permissions.Queue) != len(before.Permissions.Queue) {
		t.Error("queue length changed")
	}
	if after.Permissions.ActiveID != before.Permissions.ActiveID {
		t.Error("active id changed")
	}
}

func TestPermissionHookFiresOnceForDuplicates(t *testing.T) {
	st, _ := newTestStore()
	var announced []types.PermissionID
	st.SetPermissionHook(func(id types.SessionID, perm *types.Permission) {
		announced = append(announced, perm.ID)
	})

	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})

	if len(announced) != 1 {
		t.Errorf("expected 1 announcement, got %d", len(announced))
	}
}

func TestUnroutableAndUnknownEventsDropped(t *testing.T) {
	st, sink := newTestStore()
	st.Apply(&types.UnknownEvent{Type: "session.idle", Raw: json.RawMessage(`{}`)})
	st.Apply(&types.MessageUpdated{Info: nil})
	st.Apply(&types.PartUpdated{Part: nil})

	if len(sink.ids) != 0 {
		t.Errorf("expected no publishes, got %d", len(sink.ids))
	}
	if len(st.Sessions()) != 0 {
		t.Errorf("expected no sessions, got %v", st.Sessions())
	}
}

func TestLastUpdateMonotonic(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	first, _ := st.Snapshot("s1")
	st.Apply(&types.MessageUpdated{Info: message("m2", "s1", 200)})
	second, _ := st.Snapshot("s1")

	if !second.LastUpdate.After(first.LastUpdate) {
		t.Errorf("expected LastUpdate to advance: %v then %v", first.LastUpdate, second.LastUpdate)
	}
}

func TestEveryMergePublishesInOrder(t *testing.T) {
	st, sink := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})
	st.Apply(&types.MessageUpdated{Info: message("m1", "s2", 100)})
	st.Apply(&types.MessageUpdated{Info: message("m2", "s1", 200)})

	want := []types.SessionID{"s1", "s2", "s1"}
	if !reflect.DeepEqual(sink.ids, want) {
		t.Errorf("expected publish order %v, got %v", want, sink.ids)
	}
	// Frames reflect the state at merge time, not a live reference.
	if len(sink.states[0].Messages) != 1 {
		t.Errorf("first frame should hold 1 message, got %d", len(sink.states[0].Messages))
	}
	if len(sink.states[2].Messages) != 2 {
		t.Errorf("third frame should hold 2 messages, got %d", len(sink.states[2].Messages))
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 100)})

	snap, ok := st.Snapshot("s1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	snap.Messages[0].Role = types.RoleSystem

	fresh, _ := st.Snapshot("s1")
	if fresh.Messages[0].Role != types.RoleUser {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestHasPermission(t *testing.T) {
	st, _ := newTestStore()
	if st.HasPermission("s1", "p1") {
		t.Error("unknown session should have no permissions")
	}
	st.Apply(&types.PermissionUpdated{Permission: &types.Permission{ID: "p1", SessionID: "s1", Title: "one"}})
	if !st.HasPermission("s1", "p1") {
		t.Error("expected pending permission")
	}
	st.Apply(&types.PermissionReplied{SessionID: "s1", PermissionID: "p1"})
	if st.HasPermission("s1", "p1") {
		t.Error("replied permission should be gone")
	}
}

// stallingSink blocks its first Publish until released, so a second Apply
// racing the first has every chance to overtake it.
type stallingSink struct {
	mu      sync.Mutex
	counts  []int
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func (s *stallingSink) Publish(id types.SessionID, state *types.SessionState) {
	s.first.Do(func() {
		close(s.entered)
		<-s.release
	})
	s.mu.Lock()
	s.counts = append(s.counts, len(state.Messages))
	s.mu.Unlock()
}

func TestPublishOrderEqualsMergeOrderAcrossGoroutines(t *testing.T) {
	sink := &stallingSink{entered: make(chan struct{}), release: make(chan struct{})}
	st := New(&fakeClock{now: time.Unix(1000, 0)}, sink)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 1)})
	}()
	<-sink.entered

	// The first merge is done and its publish is stalled; the second merge
	// must now wait its turn before reaching the sink.
	wg.Add(1)
	go func() {
		defer wg.Done()
		st.Apply(&types.MessageUpdated{Info: message("m2", "s1", 2)})
	}()
	time.Sleep(50 * time.Millisecond)
	close(sink.release)
	wg.Wait()

	if !reflect.DeepEqual(sink.counts, []int{1, 2}) {
		t.Errorf("snapshots reached the sink out of merge order: %v", sink.counts)
	}
}

func TestMessageUpsertReconcilesToolIndex(t *testing.T) {
	st, _ := newTestStore()
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 1)})
	st.Apply(&types.PartUpdated{Part: toolPart("p1", "m1", "s1", "call1", types.ToolRunning)})

	// A replacement parts list that drops p1 and introduces p2 must swap the
	// index entries accordingly.
	replacement := message("m1", "s1", 1)
	replacement.Parts = []*types.Part{toolPart("p2", "m1", "s1", "call2", types.ToolCompleted)}
	st.Apply(&types.MessageUpdated{Info: replacement})

	state, _ := st.Snapshot("s1")
	if _, ok := state.ToolsByCall["call1"]; ok {
		t.Error("index entry for dropped part must be removed")
	}
	ref, ok := state.ToolsByCall["call2"]
	if !ok {
		t.Fatal("inline tool part must be indexed")
	}
	if ref.MessageID != "m1" || ref.PartID != "p2" {
		t.Errorf("unexpected index entry: %+v", ref)
	}
}

func TestInlineToolPartsAreIndexed(t *testing.T) {
	st, _ := newTestStore()

	// History replay delivers messages with their parts already attached.
	msg := message("m1", "s1", 1)
	msg.Parts = []*types.Part{toolPart("p1", "m1", "s1", "call1", types.ToolCompleted)}
	st.Apply(&types.MessageUpdated{Info: msg})

	state, _ := st.Snapshot("s1")
	ref, ok := state.ToolsByCall["call1"]
	if !ok {
		t.Fatal("expected index entry for inline tool part")
	}
	if ref.MessageID != "m1" || ref.PartID != "p1" {
		t.Errorf("unexpected index entry: %+v", ref)
	}

	// A partless metadata re-send keeps both the parts and the index.
	st.Apply(&types.MessageUpdated{Info: message("m1", "s1", 1)})
	state, _ = st.Snapshot("s1")
	if _, ok := state.ToolsByCall["call1"]; !ok {
		t.Error("partless re-send must not drop the index entry")
	}
}
