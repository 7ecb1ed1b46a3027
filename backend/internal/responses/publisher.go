package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
	"github.com/medicinisto/message-responses-integration/backend/internal/store"
)

// Publish outcomes the caller must relay. Client rejections are soft:
// redelivering the same publish would not change the answer, so they are
// logged and reported as handled. Server and transport failures return an
// error so the surrounding transport redelivers.
const (
	OutcomeAdded       = "added"
	OutcomeUpdated     = "updated"
	OutcomeClientError = "client-error"
)

type PublishResult struct {
	Outcome string
	Status  int
}

// Publisher writes the computed summary back to the messaging API as a
// message part: replace when the part exists, add when it does not.
type Publisher struct {
	client *http.Client
	base   string
	token  string
}

func NewPublisher(base, token string) *Publisher {
	return &Publisher{
		client: &http.Client{Timeout: 10 * time.Second},
		base:   strings.TrimRight(base, "/"),
		token:  token,
	}
}

type summaryPart struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type"`
	Body     string `json:"body"`
}

// Publish upserts the summary part for the entity. partID should be the
// record's bulk-import anchor when present, else the derived stable id.
func (p *Publisher) Publish(ctx context.Context, key store.EntityKey, partID string, summary crdt.Summary) (PublishResult, error) {
	body, err := json.Marshal(map[string]any{"participant_data": summary})
	if err != nil {
		return PublishResult{}, err
	}

	status, err := p.do(ctx, http.MethodGet, p.partURL(key, partID), nil, "")
	if err != nil {
		return PublishResult{}, err
	}

	switch {
	case status == http.StatusOK:
		return p.replace(ctx, key, partID, body)
	case status == http.StatusNotFound:
		return p.add(ctx, key, partID, body)
	case status >= 400 && status < 500:
		log.Printf("publish: get part rejected entity=%s part=%s status=%d", key, partID, status)
		return PublishResult{Outcome: OutcomeClientError, Status: status}, nil
	default:
		return PublishResult{}, fmt.Errorf("get part %s: HTTP %d", partID, status)
	}
}

func (p *Publisher) replace(ctx context.Context, key store.EntityKey, partID string, body []byte) (PublishResult, error) {
	part := summaryPart{
		MimeType: SummaryMimeForNode(key.NodeOrRoot()),
		Body:     string(body),
	}
	status, err := p.doJSON(ctx, http.MethodPut, p.partURL(key, partID), part)
	if err != nil {
		return PublishResult{}, err
	}
	switch {
	case status >= 200 && status < 300:
		return PublishResult{Outcome: OutcomeUpdated, Status: status}, nil
	case status >= 400 && status < 500:
		log.Printf("publish: update part rejected entity=%s part=%s status=%d", key, partID, status)
		return PublishResult{Outcome: OutcomeClientError, Status: status}, nil
	default:
		return PublishResult{}, fmt.Errorf("update part %s: HTTP %d", partID, status)
	}
}

func (p *Publisher) add(ctx context.Context, key store.EntityKey, partID string, body []byte) (PublishResult, error) {
	part := summaryPart{
		ID:       fmt.Sprintf("%s/parts/%s", key.MessageID, partID),
		MimeType: SummaryMimeForNode(key.NodeOrRoot()),
		Body:     string(body),
	}
	status, err := p.doJSON(ctx, http.MethodPost, p.partsURL(key), part)
	if err != nil {
		return PublishResult{}, err
	}
	switch {
	case status >= 200 && status < 300:
		return PublishResult{Outcome: OutcomeAdded, Status: status}, nil
	case status >= 400 && status < 500:
		log.Printf("publish: add part rejected entity=%s part=%s status=%d", key, partID, status)
		return PublishResult{Outcome: OutcomeClientError, Status: status}, nil
	default:
		return PublishResult{}, fmt.Errorf("add part for %s: HTTP %d", key, status)
	}
}

func (p *Publisher) partsURL(key store.EntityKey) string {
	return fmt.Sprintf("%s/conversations/%s/messages/%s/parts",
		p.base, key.ConversationID, key.MessageID)
}

func (p *Publisher) partURL(key store.EntityKey, partID string) string {
	return p.partsURL(key) + "/" + partID
}

func (p *Publisher) doJSON(ctx context.Context, method, url string, payload any) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return p.do(ctx, method, url, bytes.NewReader(b), "application/json")
}

func (p *Publisher) do(ctx context.Context, method, url string, body io.Reader, contentType string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// transport failure must propagate so the event is redelivered
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
