package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
	"github.com/medicinisto/message-responses-integration/backend/internal/httpapi/middleware"
	"github.com/medicinisto/message-responses-integration/backend/internal/ingest"
	"github.com/medicinisto/message-responses-integration/backend/internal/responses"
	"github.com/medicinisto/message-responses-integration/backend/internal/store"
)

const testSecret = "webhook-secret"

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, key store.EntityKey, partID string, summary crdt.Summary) (responses.PublishResult, error) {
	return responses.PublishResult{Outcome: responses.OutcomeUpdated}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ingestor := ingest.NewIngestor(store.NewMemoryLedger(), noopPublisher{}, nil, nil, nil)
	h := NewWebhook(ingestor, nil) // 同步模式

	r := gin.New()
	hooks := r.Group("/responses")
	hooks.POST("/webhook", middleware.WebhookAuth(testSecret), h.Receive)
	hooks.GET("/webhook/verify", h.Verify)
	hooks.GET("/summary", h.Summary)
	hooks.POST("/initial-state", middleware.WebhookAuth(testSecret), h.ImportInitialState)
	return r
}

func webhookBody(t *testing.T, changes []crdt.Operation) []byte {
	t.Helper()
	respBody, err := json.Marshal(responses.ResponseBody{
		ResponseTo:       "message-1",
		ResponseToNodeID: "node-1",
		Changes:          changes,
	})
	if err != nil {
		t.Fatalf("marshal response body: %v", err)
	}
	event := map[string]any{
		"event": map[string]any{"type": "Message.created"},
		"message": map[string]any{
			"id":           "layer:///messages/response-1",
			"conversation": map[string]any{"id": "layer:///conversations/conversation-1"},
			"sender":       map[string]any{"user_id": "layer:///identities/sender-1"},
			"sent_at":      "2018-01-15T10:00:00Z",
			"parts": []map[string]any{
				{
					"id":        "layer:///messages/response-1/parts/0",
					"mime_type": responses.MimeResponse + "; role=response",
					"body":      string(respBody),
				},
			},
		},
	}
	b, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func signedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SignatureHeader, middleware.Sign(testSecret, body))
	return req
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	r := newTestRouter(t)
	body := webhookBody(t, []crdt.Operation{
		{Op: crdt.OpAdd, Type: crdt.Set, Name: "selection-1", ID: "1", Value: "red"},
	})

	req := httptest.NewRequest(http.MethodPost, "/responses/webhook", bytes.NewReader(body))
	req.Header.Set(middleware.SignatureHeader, "not-the-signature")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestWebhook_ReceiveThenSummary(t *testing.T) {
	r := newTestRouter(t)
	body := webhookBody(t, []crdt.Operation{
		{Op: crdt.OpAdd, Type: crdt.Set, Name: "selection-1", ID: "1", Value: "red"},
		{Op: crdt.OpAdd, Type: crdt.Set, Name: "selection-1", ID: "2", Value: "red"},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, http.MethodPost, "/responses/webhook", body))
	if w.Code != 200 {
		t.Fatalf("webhook status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/responses/summary?messageId=message-1&nodeId=node-1", nil))
	if w.Code != 200 {
		t.Fatalf("summary status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var resp struct {
		ParticipantData crdt.Summary `json:"participant_data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	field := resp.ParticipantData["sender-1"]["selection-1"]
	if len(field.Adds) != 1 || len(field.Adds[0].IDs) != 2 {
		t.Fatalf("resolved field = %+v, want one entry backed by both ids", field)
	}
}

func TestWebhook_NoResponsePartIsAcked(t *testing.T) {
	r := newTestRouter(t)
	event := map[string]any{
		"event": map[string]any{"type": "Message.created"},
		"message": map[string]any{
			"id":           "layer:///messages/plain-1",
			"conversation": map[string]any{"id": "layer:///conversations/conversation-1"},
			"sender":       map[string]any{"user_id": "layer:///identities/sender-1"},
			"sent_at":      "2018-01-15T10:00:00Z",
			"parts": []map[string]any{
				{"mime_type": "text/plain", "body": "hello"},
			},
		},
	}
	body, _ := json.Marshal(event)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, http.MethodPost, "/responses/webhook", body))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no response parts") {
		t.Fatalf("body = %s, want no-response-parts ack", w.Body.String())
	}
}

func TestWebhook_Verify(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/responses/webhook/verify?verification_challenge=abc123", nil))
	if w.Code != 200 || w.Body.String() != "abc123" {
		t.Fatalf("verify = %d %q, want 200 abc123", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/responses/webhook/verify", nil))
	if w.Code != 400 {
		t.Fatalf("verify without challenge = %d, want 400", w.Code)
	}
}

func TestWebhook_SummaryMissingEntity(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/responses/summary?messageId=no-such-message", nil))
	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWebhook_ImportInitialState(t *testing.T) {
	r := newTestRouter(t)

	payload, _ := json.Marshal(importRequest{
		Items: []ingest.InitialStateImport{{
			ConversationID:   "conversation-1",
			MessageID:        "message-2",
			ResponseToNodeID: "node-1",
			PartID:           "part-1",
			Changes: []crdt.TaggedOperation{
				{
					Operation:  crdt.Operation{Op: crdt.OpAdd, Type: crdt.Set, Name: "selection-1", ID: "1", Value: "red"},
					IdentityID: "sender-1",
				},
			},
		}},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, http.MethodPost, "/responses/initial-state", payload))
	if w.Code != 200 {
		t.Fatalf("import status = %d (body %s), want 200", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/responses/summary?messageId=message-2&nodeId=node-1", nil))
	if w.Code != 200 {
		t.Fatalf("summary after import = %d, want 200", w.Code)
	}
}
