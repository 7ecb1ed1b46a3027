package responses

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
)

const (
	// MIME tags of the response protocol. A message part carrying a
	// participant's response has MimeResponse (possibly with parameters);
	// the computed summary part is MimeResponseSummary with a
	// parent-node-id parameter pointing at the node it summarizes.
	MimeResponse        = "application/vnd.layer.response+json"
	MimeResponseSummary = "application/vnd.layer.responsesummary+json"
)

// SummaryMimeForNode builds the summary part mime type for one node.
func SummaryMimeForNode(nodeID string) string {
	return MimeResponseSummary + "; role=response_summary; parent-node-id=" + nodeID
}

// Webhook payload shapes, reduced to the fields this service reads.
type WebhookEvent struct {
	Event struct {
		Type string `json:"type"`
	} `json:"event"`
	Message *Message `json:"message"`
}

type Message struct {
	ID           string        `json:"id"`
	Conversation *Conversation `json:"conversation"`
	Sender       Sender        `json:"sender"`
	SentAt       time.Time     `json:"sent_at"`
	Parts        []MessagePart `json:"parts"`
}

type Conversation struct {
	ID string `json:"id"`
}

type Sender struct {
	UserID string `json:"user_id"`
}

type MessagePart struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Body     string `json:"body"`
}

// ResponseBody is the JSON body of a response part: which message/node it
// answers and the change batch to append.
type ResponseBody struct {
	ResponseTo       string           `json:"response_to"`
	ResponseToNodeID string           `json:"response_to_node_id"`
	Changes          []crdt.Operation `json:"changes"`
}

func (p MessagePart) DecodeResponseBody() (*ResponseBody, error) {
	var body ResponseBody
	if err := json.Unmarshal([]byte(p.Body), &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// ResponseRecord is one parsed response event, the unit that travels from
// the webhook through the stream to ingestion.
type ResponseRecord struct {
	ConversationID string      `json:"conversationId"`
	MessageID      string      `json:"messageId"`
	SenderID       string      `json:"senderId"`
	MessageSentAt  int64       `json:"messageSentAt"`
	ResponsePart   MessagePart `json:"responsePart"`
}

// ParseMessage extracts the response part from a webhook message, or nil
// when the message carries none (most messages do not).
func ParseMessage(msg *Message) *ResponseRecord {
	if msg == nil {
		return nil
	}
	var responsePart *MessagePart
	for i := range msg.Parts {
		if strings.HasPrefix(msg.Parts[i].MimeType, MimeResponse) {
			responsePart = &msg.Parts[i]
		}
	}
	if responsePart == nil {
		return nil
	}

	record := &ResponseRecord{
		MessageID:     ToUUID(msg.ID),
		SenderID:      ToUUID(msg.Sender.UserID),
		MessageSentAt: msg.SentAt.UnixMilli(),
		ResponsePart:  *responsePart,
	}
	if msg.Conversation != nil {
		record.ConversationID = ToUUID(msg.Conversation.ID)
	}
	return record
}

// ToUUID strips the layer:///<kind>/ prefix off a resource id, leaving the
// bare uuid. Already-bare ids pass through unchanged.
func ToUUID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// GeneratePartID derives the stable summary part id for a message+node, so
// repeated publishes address the same downstream part instead of growing
// new ones.
func GeneratePartID(messageID, nodeID string) string {
	if nodeID == "" {
		nodeID = "root"
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(messageID+nodeID)).String()
}
