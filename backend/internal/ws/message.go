package ws

import (
	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
)

type ClientMessage struct {
	Type      string `json:"type"` // "subscribe" | "unsubscribe"
	MessageID string `json:"messageId"`
	NodeID    string `json:"nodeId"`
}

// ServerMessage pushes a freshly published summary to feed subscribers.
type ServerMessage struct {
	Type      string       `json:"type"` // 固定 "summary" / "error"
	MessageID string       `json:"messageId,omitempty"`
	NodeID    string       `json:"nodeId,omitempty"`
	PartID    string       `json:"partId,omitempty"`
	Summary   crdt.Summary `json:"summary,omitempty"`
	Content   string       `json:"content,omitempty"`
}
