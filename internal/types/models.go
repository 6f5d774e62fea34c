// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type PartType string

const (
	PartText PartType = "text"
	PartTool PartType = "tool"
	PartStep PartType = "step"
)

type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Usage carries the accounting fields the upstream attaches to assistant
// messages. All fields are optional; a zero Usage means the upstream reported
// nothing.
type Usage struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	Model        string  `json:"model,omitempty"`
}

type Message struct {
	ID        MessageID `json:"id"`
	SessionID SessionID `json:"sessionID"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	Usage     *Usage    `json:"usage,omitempty"`
	Parts     []*Part   `json:"parts"`
}

// Part is one segment of a message: plain text, a tool invocation, or a step
// boundary marker. Tool parts move through pending -> running -> completed or
// error; the part is mutated in place by id as the upstream reports progress.
type Part struct {
	ID        PartID          `json:"id"`
	SessionID SessionID       `json:"sessionID,omitempty"`
	MessageID MessageID       `json:"messageID"`
	Type      PartType        `json:"type"`
	Text      string          `json:"text,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	CallID    CallID          `json:"callID,omitempty"`
	Status    ToolStatus      `json:"status,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Permission is a transient approval request. It exists from the moment the
// upstream announces it until the reply event is ingested.
type Permission struct {
	ID        PermissionID    `json:"id"`
	SessionID SessionID       `json:"sessionID"`
	MessageID MessageID       `json:"messageID,omitempty"`
	CallID    CallID          `json:"callID,omitempty"`
	Title     string          `json:"title"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PermissionResponse is the closed set of outcomes a client may choose.
type PermissionResponse string

const (
	ResponseOnce   PermissionResponse = "once"
	ResponseAlways PermissionResponse = "always"
	ResponseReject PermissionResponse = "reject"
)

// ValidResponse reports whether r is one of the allowed outcomes.
func ValidResponse(r PermissionResponse) bool {
	switch r {
	case ResponseOnce, ResponseAlways, ResponseReject:
		return true
	}
	return false
}

// PermissionQueue holds pending approval requests in arrival order.
// Invariant: ActiveID is Queue[0], or empty when the queue is empty.
type PermissionQueue struct {
	ByID     map[PermissionID]*Permission `json:"byId"`
	Queue    []PermissionID               `json:"queue"`
	ActiveID PermissionID                 `json:"activeId,omitempty"`
}

// ToolRef locates the part that owns a tool call.
type ToolRef struct {
	MessageID MessageID `json:"messageID"`
	PartID    PartID    `json:"partID"`
}

// SessionState is the full per-session aggregate. LastUpdate is monotonically
// non-decreasing and is what pollers compare against for staleness.
type SessionState struct {
	Messages    []*Message          `json:"messages"`
	Permissions PermissionQueue     `json:"permissions"`
	ToolsByCall map[CallID]*ToolRef `json:"toolsByCall"`
	LastUpdate  time.Time           `json:"lastUpdate"`
}

// NewSessionState returns an empty aggregate with all containers allocated.
func NewSessionState() *SessionState {
	return &SessionState{
		Permissions: PermissionQueue{ByID: make(map[PermissionID]*Permission)},
		ToolsByCall: make(map[CallID]*ToolRef),
	}
}

// Clone returns a deep copy. Subscribers only ever see clones; the live
// aggregate never leaves the store.
func (s *SessionState) Clone() *SessionState {
	out := &SessionState{
		Messages:    make([]*Message, 0, len(s.Messages)),
		Permissions: PermissionQueue{ByID: make(map[PermissionID]*Permission, len(s.Permissions.ByID))},
		ToolsByCall: make(map[CallID]*ToolRef, len(s.ToolsByCall)),
		LastUpdate:  s.LastUpdate,
	}
	for _, msg := range s.Messages {
		m := *msg
		m.Parts = make([]*Part, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			p := *part
			m.Parts = append(m.Parts, &p)
		}
		if msg.Usage != nil {
			u := *msg.Usage
			m.Usage = &u
		}
		out.Messages = append(out.Messages, &m)
	}
	for id, perm := range s.Permissions.ByID {
		p := *perm
		out.Permissions.ByID[id] = &p
	}
	out.Permissions.Queue = append([]PermissionID(nil), s.Permissions.Queue...)
	out.Permissions.ActiveID = s.Permissions.ActiveID
	for id, ref := range s.ToolsByCall {
		r := *ref
		out.ToolsByCall[id] = &r
	}
	return out
}
