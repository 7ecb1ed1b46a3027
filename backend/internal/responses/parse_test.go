package responses

import (
	"testing"
	"time"
)

func sampleMessage() *Message {
	return &Message{
		ID:           "layer:///messages/message-1",
		Conversation: &Conversation{ID: "layer:///conversations/conversation-1"},
		Sender:       Sender{UserID: "layer:///identities/sender-1"},
		SentAt:       time.UnixMilli(1500000000000),
		Parts: []MessagePart{
			{
				ID:       "layer:///messages/message-1/parts/0",
				MimeType: "text/plain",
				Body:     "Which color?",
			},
			{
				ID:       "layer:///messages/message-1/parts/1",
				MimeType: MimeResponse + "; role=response",
				Body:     `{"response_to":"message-0","response_to_node_id":"node-1","changes":[{"operation":"add","type":"Set","name":"selection-1","id":"1","value":"red"}]}`,
			},
		},
	}
}

func TestParseMessage(t *testing.T) {
	record := ParseMessage(sampleMessage())
	if record == nil {
		t.Fatalf("ParseMessage() = nil, want record")
	}
	if record.ConversationID != "conversation-1" {
		t.Fatalf("ConversationID = %q, want conversation-1", record.ConversationID)
	}
	if record.MessageID != "message-1" {
		t.Fatalf("MessageID = %q, want message-1", record.MessageID)
	}
	if record.SenderID != "sender-1" {
		t.Fatalf("SenderID = %q, want sender-1", record.SenderID)
	}
	if record.MessageSentAt != 1500000000000 {
		t.Fatalf("MessageSentAt = %d, want 1500000000000", record.MessageSentAt)
	}

	body, err := record.ResponsePart.DecodeResponseBody()
	if err != nil {
		t.Fatalf("DecodeResponseBody() error = %v", err)
	}
	if body.ResponseTo != "message-0" || body.ResponseToNodeID != "node-1" {
		t.Fatalf("body addressing = %q/%q, want message-0/node-1", body.ResponseTo, body.ResponseToNodeID)
	}
	if len(body.Changes) != 1 || body.Changes[0].ID != "1" {
		t.Fatalf("body.Changes = %+v, want one change with id 1", body.Changes)
	}
}

func TestParseMessage_NoResponsePart(t *testing.T) {
	msg := sampleMessage()
	msg.Parts = msg.Parts[:1]
	if record := ParseMessage(msg); record != nil {
		t.Fatalf("ParseMessage() = %+v, want nil", record)
	}
}

func TestToUUID(t *testing.T) {
	if got := ToUUID("layer:///messages/message-1"); got != "message-1" {
		t.Fatalf("ToUUID() = %q, want message-1", got)
	}
	if got := ToUUID("message-1"); got != "message-1" {
		t.Fatalf("ToUUID() = %q, want message-1", got)
	}
}

func TestGeneratePartID(t *testing.T) {
	a := GeneratePartID("message-1", "node-1")
	b := GeneratePartID("message-1", "node-1")
	if a != b {
		t.Fatalf("GeneratePartID() not stable: %q vs %q", a, b)
	}
	if a == GeneratePartID("message-1", "node-2") {
		t.Fatalf("GeneratePartID() collided across nodes")
	}
	if GeneratePartID("message-1", "") != GeneratePartID("message-1", "root") {
		t.Fatalf("empty node id must fall back to root")
	}
}
