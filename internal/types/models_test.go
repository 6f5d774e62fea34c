// internal/types/models_test.go
package types

import (
	"testing"
	"time"
)

func TestCloneIsDeep(t *testing.T) {
	state := NewSessionState()
	state.Messages = append(state.Messages, &Message{
		ID:        "m1",
		SessionID: "s1",
		Role:      RoleAssistant,
		CreatedAt: time.Unix(100, 0),
		Usage:     &Usage{InputTokens: 10},
		Parts: []*Part{
			{ID: "p1", MessageID: "m1", Type: PartText, Text: "hello"},
		},
	})
	state.Permissions.ByID["perm1"] = &Permission{ID: "perm1", SessionID: "s1", Title: "ok?"}
	state.Permissions.Queue = []PermissionID{"perm1"}
	state.Permissions.ActiveID = "perm1"
	state.ToolsByCall["c1"] = &ToolRef{MessageID: "m1", PartID: "p1"}

	clone := state.Clone()

	clone.Messages[0].Parts[0].Text = "changed"
	clone.Messages[0].Usage.InputTokens = 99
	clone.Permissions.ByID["perm1"].Title = "changed"
	clone.Permissions.Queue[0] = "other"
	clone.ToolsByCall["c1"].PartID = "p2"

	if state.Messages[0].Parts[0].Text != "hello" {
		t.Error("part mutation leaked into original")
	}
	if state.Messages[0].Usage.InputTokens != 10 {
		t.Error("usage mutation leaked into original")
	}
	if state.Permissions.ByID["perm1"].Title != "ok?" {
		t.Error("permission mutation leaked into original")
	}
	if state.Permissions.Queue[0] != "perm1" {
		t.Error("queue mutation leaked into original")
	}
	if state.ToolsByCall["c1"].PartID != "p1" {
		t.Error("tool index mutation leaked into original")
	}
}

func TestCloneEmptyState(t *testing.T) {
	clone := NewSessionState().Clone()
	if clone.Messages == nil || clone.Permissions.ByID == nil || clone.ToolsByCall == nil {
		t.Error("clone must keep containers allocated")
	}
}
