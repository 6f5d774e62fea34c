// internal/types/events.go
package types

import (
	"encoding/json"
	"fmt"
)

// Event is the closed set of upstream notifications. Every variant knows
// which session it belongs to; Session returning "" means the event carries
// no routable session id and must be dropped.
type Event interface {
	Session() SessionID
	isEvent()
}

// Wire event kinds as they appear in the upstream `type` field.
const (
	KindMessageUpdated    = "message.updated"
	KindMessageRemoved    = "message.removed"
	KindPartUpdated       = "message.part.updated"
	KindPartRemoved       = "message.part.removed"
	KindPermissionUpdated = "permission.updated"
	KindPermissionReplied = "permission.replied"
)

type MessageUpdated struct {
	Info *Message `json:"info"`
}

func (e *MessageUpdated) Session() SessionID {
	if e.Info == nil {
		return ""
	}
	return e.Info.SessionID
}
func (*MessageUpdated) isEvent() {}

type MessageRemoved struct {
	SessionID SessionID `json:"sessionID"`
	MessageID MessageID `json:"messageID"`
}

func (e *MessageRemoved) Session() SessionID { return e.SessionID }
func (*MessageRemoved) isEvent()             {}

type PartUpdated struct {
	Part *Part `json:"part"`
}

func (e *PartUpdated) Session() SessionID {
	if e.Part == nil {
		return ""
	}
	return e.Part.SessionID
}
func (*PartUpdated) isEvent() {}

type PartRemoved struct {
	SessionID SessionID `json:"sessionID"`
	MessageID MessageID `json:"messageID"`
	PartID    PartID    `json:"partID"`
}

func (e *PartRemoved) Session() SessionID { return e.SessionID }
func (*PartRemoved) isEvent()             {}

type PermissionUpdated struct {
	Permission *Permission
}

func (e *PermissionUpdated) Session() SessionID {
	if e.Permission == nil {
		return ""
	}
	return e.Permission.SessionID
}
func (*PermissionUpdated) isEvent() {}

type PermissionReplied struct {
	SessionID    SessionID          `json:"sessionID"`
	PermissionID PermissionID       `json:"permissionID"`
	Response     PermissionResponse `json:"response,omitempty"`
}

func (e *PermissionReplied) Session() SessionID { return e.SessionID }
func (*PermissionReplied) isEvent()             {}

// UnknownEvent preserves frames whose kind this build does not recognize.
// They are accepted and ignored, never treated as errors.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e *UnknownEvent) Session() SessionID { return "" }
func (*UnknownEvent) isEvent()             {}

type eventFrame struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// DecodeEvent parses one upstream frame into an Event. A recognized kind with
// a malformed body is an error (the frame is dropped by the caller); an
// unrecognized kind decodes to UnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}
	switch frame.Type {
	case KindMessageUpdated:
		ev := &MessageUpdated{}
		if err := json.Unmarshal(frame.Properties, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		return ev, nil
	case KindMessageRemoved:
		ev := &MessageRemoved{}
		if err := json.Unmarshal(frame.Properties, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		return ev, nil
	case KindPartUpdated:
		ev := &PartUpdated{}
		if err := json.Unmarshal(frame.Properties, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		return ev, nil
	case KindPartRemoved:
		ev := &PartRemoved{}
		if err := json.Unmarshal(frame.Properties, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		return ev, nil
	case KindPermissionUpdated:
		var perm Permission
		if err := json.Unmarshal(frame.Properties, &perm); err != nil {
			return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		return &PermissionUpdated{Permission: &perm}, nil
	case KindPermissionReplied:
		ev := &PermissionReplied{}
		if err := json.Unmarshal(frame.Properties, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
		}
		return ev, nil
	default:
		return &UnknownEvent{Type: frame.Type, Raw: frame.Properties}, nil
	}
}
