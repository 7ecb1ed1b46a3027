package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medicinisto/message-responses-integration/backend/internal/ingest"
	"github.com/medicinisto/message-responses-integration/backend/internal/responses"
	"github.com/medicinisto/message-responses-integration/backend/internal/store"
)

// Webhook carries the handler dependencies. With a dispatcher the webhook
// only enqueues and always acks (the stream owns the retries); without
// one it ingests inline and maps hard failures to 500 so the sender
// redelivers.
type Webhook struct {
	ingestor   *ingest.Ingestor
	dispatcher *ingest.Dispatcher
}

func NewWebhook(ingestor *ingest.Ingestor, dispatcher *ingest.Dispatcher) *Webhook {
	return &Webhook{ingestor: ingestor, dispatcher: dispatcher}
}

func (h *Webhook) Receive(c *gin.Context) {
	var evt responses.WebhookEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		log.Printf("webhook: parse event err=%v", err)
		// 格式坏的事件重投递也没用，直接 ack
		c.JSON(200, gin.H{"message": "ignored"})
		return
	}

	// 过滤非会话事件
	if evt.Event.Type == "Message.created" && evt.Message != nil && evt.Message.Conversation == nil {
		c.JSON(200, gin.H{"message": "not a conversation"})
		return
	}

	record := responses.ParseMessage(evt.Message)
	if record == nil {
		c.JSON(200, gin.H{"message": "no response parts"})
		return
	}

	body, err := record.ResponsePart.DecodeResponseBody()
	if err != nil || body.ResponseTo == "" {
		log.Printf("webhook: undecodable response part conversation=%s message=%s err=%v",
			record.ConversationID, record.MessageID, err)
		c.JSON(200, gin.H{"message": "ignored"})
		return
	}

	log.Printf("webhook: %s:%s", record.ConversationID, record.MessageID)

	if h.dispatcher != nil {
		event := ingest.ResponseEvent{
			EventType:  ingest.EventTypeResponseReceived,
			MessageID:  responses.ToUUID(body.ResponseTo),
			NodeID:     responses.ToUUID(body.ResponseToNodeID),
			Record:     *record,
			ReceivedAt: time.Now(),
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()
		if err := h.dispatcher.Enqueue(ctx, event); err != nil {
			// ack 照常返回：消息端的重投递由上游 webhook 重试兜底
			log.Printf("webhook: enqueue err=%v", err)
		}
		c.JSON(200, gin.H{"message": "accepted"})
		return
	}

	// 同步模式（未配置 Kafka）
	err = h.ingestor.IngestRecord(c.Request.Context(), *record)
	switch {
	case err == nil:
		c.JSON(200, gin.H{"message": "processed"})
	case errors.Is(err, ingest.ErrMalformedRecord):
		log.Printf("webhook: malformed record err=%v", err)
		c.JSON(200, gin.H{"message": "ignored"})
	default:
		log.Printf("webhook: ingest err=%v", err)
		c.JSON(500, gin.H{"error": "ingest failed"})
	}
}

// Verify answers the webhook registration challenge.
func (h *Webhook) Verify(c *gin.Context) {
	challenge := c.Query("verification_challenge")
	if challenge == "" {
		c.String(400, "Missing `verification_challenge` URL query parameter")
		return
	}
	c.String(200, challenge)
}

func (h *Webhook) Summary(c *gin.Context) {
	messageID := c.Query("messageId")
	if messageID == "" {
		c.JSON(400, gin.H{"error": "messageId is required"})
		return
	}
	key := store.EntityKey{
		ConversationID: c.Query("conversationId"),
		MessageID:      messageID,
		NodeID:         c.Query("nodeId"),
	}

	summary, err := h.ingestor.Summary(c.Request.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(404, gin.H{"error": "no responses recorded"})
	case err != nil:
		log.Printf("summary: entity=%s err=%v", key, err)
		c.JSON(500, gin.H{"error": "summary failed"})
	default:
		c.JSON(200, gin.H{"participant_data": summary})
	}
}

type importRequest struct {
	Items []ingest.InitialStateImport `json:"items"`
}

func (h *Webhook) ImportInitialState(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "invalid import payload"})
		return
	}
	if err := h.ingestor.ImportInitialState(c.Request.Context(), req.Items); err != nil {
		log.Printf("import: err=%v", err)
		c.JSON(500, gin.H{"error": "import failed"})
		return
	}
	c.JSON(200, gin.H{"message": "imported", "count": len(req.Items)})
}
