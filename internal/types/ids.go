// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type MessageID string
type PartID string
type CallID string
type PermissionID string
type SubscriberID string

// NewMessageID returns a client-generated message id, used when submitting a
// user message so the upstream echo can be correlated with the local send.
func NewMessageID() MessageID {
	return MessageID("msg_" + uuid.New().String())
}

func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.New().String())
}
