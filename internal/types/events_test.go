// internal/types/events_test.go
package types

import (
	"testing"
)

func TestDecodeMessageUpdated(t *testing.T) {
	data := []byte(`{"type":"message.updated","properties":{"info":{"id":"m1","sessionID":"s1","role":"assistant"}}}`)
	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := ev.(*MessageUpdated)
	if !ok {
		t.Fatalf("expected *MessageUpdated, got %T", ev)
	}
	if msg.Info.ID != "m1" || msg.Info.Role != RoleAssistant {
		t.Errorf("unexpected info: %+v", msg.Info)
	}
	if ev.Session() != "s1" {
		t.Errorf("expected session s1, got %s", ev.Session())
	}
}

func TestDecodePartUpdated(t *testing.T) {
	data := []byte(`{"type":"message.part.updated","properties":{"part":{"id":"p1","sessionID":"s1","messageID":"m1","type":"tool","tool":"bash","callID":"c1","status":"running"}}}`)
	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	part, ok := ev.(*PartUpdated)
	if !ok {
		t.Fatalf("expected *PartUpdated, got %T", ev)
	}
	if part.Part.CallID != "c1" || part.Part.Status != ToolRunning {
		t.Errorf("unexpected part: %+v", part.Part)
	}
	if ev.Session() != "s1" {
		t.Errorf("expected session s1, got %s", ev.Session())
	}
}

func TestDecodePermissionEvents(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"permission.updated","properties":{"id":"perm1","sessionID":"s1","title":"Run bash?"}}`))
	if err != nil {
		t.Fatal(err)
	}
	up, ok := ev.(*PermissionUpdated)
	if !ok {
		t.Fatalf("expected *PermissionUpdated, got %T", ev)
	}
	if up.Permission.Title != "Run bash?" {
		t.Errorf("unexpected permission: %+v", up.Permission)
	}

	ev, err = DecodeEvent([]byte(`{"type":"permission.replied","properties":{"sessionID":"s1","permissionID":"perm1","response":"once"}}`))
	if err != nil {
		t.Fatal(err)
	}
	rep, ok := ev.(*PermissionReplied)
	if !ok {
		t.Fatalf("expected *PermissionReplied, got %T", ev)
	}
	if rep.PermissionID != "perm1" || rep.Response != ResponseOnce {
		t.Errorf("unexpected reply: %+v", rep)
	}
}

func TestDecodeRemovedEvents(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message.removed","properties":{"sessionID":"s1","messageID":"m1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.(*MessageRemoved); !ok {
		t.Fatalf("expected *MessageRemoved, got %T", ev)
	}

	ev, err = DecodeEvent([]byte(`{"type":"message.part.removed","properties":{"sessionID":"s1","messageID":"m1","partID":"p1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	pr, ok := ev.(*PartRemoved)
	if !ok {
		t.Fatalf("expected *PartRemoved, got %T", ev)
	}
	if pr.PartID != "p1" {
		t.Errorf("unexpected part id: %s", pr.PartID)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"session.idle","properties":{"sessionID":"s1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	unknown, ok := ev.(*UnknownEvent)
	if !ok {
		t.Fatalf("expected *UnknownEvent, got %T", ev)
	}
	if unknown.Type != "session.idle" {
		t.Errorf("unexpected type: %s", unknown.Type)
	}
	if ev.Session() != "" {
		t.Error("unknown events must not be routable")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := DecodeEvent([]byte(`{"type":"message.updated","properties":"nope"}`)); err == nil {
		t.Error("expected error for malformed body of known kind")
	}
}

func TestValidResponse(t *testing.T) {
	for _, r := range []PermissionResponse{ResponseOnce, ResponseAlways, ResponseReject} {
		if !ValidResponse(r) {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if ValidResponse("maybe") {
		t.Error("expected maybe to be invalid")
	}
}
