package notify

import (
	"errors"
	"testing"

	"github.com/user/sessionrelay/internal/types"
)

func TestAnnounceReachesAllNotifiers(t *testing.T) {
	reg := NewRegistry()
	var first, second []types.PermissionID
	reg.Register("first", func(id types.SessionID, perm *types.Permission) error {
		first = append(first, perm.ID)
		return nil
	})
	reg.Register("second", func(id types.SessionID, perm *types.Permission) error {
		second = append(second, perm.ID)
		return nil
	})

	reg.Announce("s1", &types.Permission{ID: "p1", SessionID: "s1"})

	if len(first) != 1 || len(second) != 1 {
		t.Errorf("expected both notifiers called, got %d and %d", len(first), len(second))
	}
}

func TestAnnounceSurvivesFailingNotifier(t *testing.T) {
	reg := NewRegistry()
	called := 0
	reg.Register("broken", func(id types.SessionID, perm *types.Permission) error {
		return errors.New("boom")
	})
	reg.Register("working", func(id types.SessionID, perm *types.Permission) error {
		called++
		return nil
	})

	reg.Announce("s1", &types.Permission{ID: "p1", SessionID: "s1"})

	if called != 1 {
		t.Errorf("expected working notifier to run, got %d calls", called)
	}
}

func TestRegisterReplacesSameName(t *testing.T) {
	reg := NewRegistry()
	calls := []string{}
	reg.Register("tg", func(id types.SessionID, perm *types.Permission) error {
		calls = append(calls, "old")
		return nil
	})
	reg.Register("tg", func(id types.SessionID, perm *types.Permission) error {
		calls = append(calls, "new")
		return nil
	})

	reg.Announce("s1", &types.Permission{ID: "p1", SessionID: "s1"})

	if len(calls) != 1 || calls[0] != "new" {
		t.Errorf("expected only the replacement to run, got %v", calls)
	}
}
