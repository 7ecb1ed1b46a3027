package ingest

import (
	"time"

	"github.com/medicinisto/message-responses-integration/backend/internal/responses"
)

const EventTypeResponseReceived = "RESPONSE_RECEIVED"

// ResponseEvent is the stream payload between webhook receipt and
// ingestion. MessageID/NodeID double as the partition key so all events
// for one entity land on one partition and replay in order.
type ResponseEvent struct {
	EventType  string                   `json:"eventType"` // 固定 "RESPONSE_RECEIVED"
	MessageID  string                   `json:"messageId"`
	NodeID     string                   `json:"nodeId"`
	Record     responses.ResponseRecord `json:"record"`
	ReceivedAt time.Time                `json:"receivedAt"`
}

func (e ResponseEvent) PartitionKey() string {
	return e.MessageID + ":" + e.NodeID
}
