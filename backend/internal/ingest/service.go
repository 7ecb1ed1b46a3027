package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/singleflight"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
	"github.com/medicinisto/message-responses-integration/backend/internal/responses"
	"github.com/medicinisto/message-responses-integration/backend/internal/store"
)

// ErrMalformedRecord marks records whose payload cannot be applied.
// Redelivering them would fail identically, so callers log and ack instead
// of propagating.
var ErrMalformedRecord = errors.New("MALFORMED_RECORD")

// SummaryPublisher is what the ingestor needs from the messaging API
// collaborator.
type SummaryPublisher interface {
	Publish(ctx context.Context, key store.EntityKey, partID string, summary crdt.Summary) (responses.PublishResult, error)
}

// SummaryArchiver mirrors store.SummaryArchive; nil-able (archive is
// optional, controlled by config).
type SummaryArchiver interface {
	SaveSummary(ctx context.Context, key store.EntityKey, partID string, summary []byte) error
	RecordImport(ctx context.Context, key store.EntityKey, partID string) error
}

// SummaryBroadcaster pushes freshly published summaries to live feed
// subscribers; nil-able.
type SummaryBroadcaster interface {
	BroadcastSummary(key store.EntityKey, partID string, summary crdt.Summary)
}

// Ingestor drives one response record end to end: append to the ledger
// store, rebuild the summary, publish it, then archive and broadcast as
// best-effort side channels.
type Ingestor struct {
	ledger    store.LedgerStore
	publisher SummaryPublisher
	archive   SummaryArchiver
	feed      SummaryBroadcaster
	sem       *Semaphore

	// 并发读同一实体时只回源一次
	sf singleflight.Group
}

func NewIngestor(ledger store.LedgerStore, publisher SummaryPublisher, archive SummaryArchiver, feed SummaryBroadcaster, sem *Semaphore) *Ingestor {
	return &Ingestor{
		ledger:    ledger,
		publisher: publisher,
		archive:   archive,
		feed:      feed,
		sem:       sem,
	}
}

// IngestRecord appends the record's change batch and republishes the
// entity summary. Hard errors (storage, 5xx/transport publish) propagate
// so the transport redelivers; data-level failures come back wrapped in
// ErrMalformedRecord.
func (in *Ingestor) IngestRecord(ctx context.Context, record responses.ResponseRecord) error {
	body, err := record.ResponsePart.DecodeResponseBody()
	if err != nil {
		return fmt.Errorf("%w: decode response body: %v", ErrMalformedRecord, err)
	}
	if body.ResponseTo == "" {
		return fmt.Errorf("%w: missing response_to", ErrMalformedRecord)
	}

	key := store.EntityKey{
		ConversationID: record.ConversationID,
		MessageID:      responses.ToUUID(body.ResponseTo),
		NodeID:         responses.ToUUID(body.ResponseToNodeID),
	}

	rec, err := in.ledger.UpdateAppend(ctx, key, record.SenderID, body.Changes)
	if err != nil {
		return fmt.Errorf("append ops for %s: %w", key, err)
	}

	summary, err := crdt.ToResponseSummary(rec.Responses)
	if err != nil {
		// 数据本身不一致（比如同名字段换了合并类型），重投递也救不了
		return fmt.Errorf("%w: build summary for %s: %v", ErrMalformedRecord, key, err)
	}

	partID := rec.InitialPartID
	if partID == "" {
		partID = responses.GeneratePartID(key.MessageID, key.NodeOrRoot())
	}

	if in.sem != nil {
		if err := in.sem.Acquire(ctx); err != nil {
			return err
		}
		defer in.sem.Release()
	}

	res, err := in.publisher.Publish(ctx, key, partID, summary)
	if err != nil {
		return fmt.Errorf("publish summary for %s: %w", key, err)
	}
	log.Printf("ingest: entity=%s sender=%s outcome=%s", key, record.SenderID, res.Outcome)

	in.sideChannels(ctx, key, partID, summary)
	return nil
}

// sideChannels: archive and feed are best-effort, their failures never
// fail the ingest (the summary is already published).
func (in *Ingestor) sideChannels(ctx context.Context, key store.EntityKey, partID string, summary crdt.Summary) {
	if in.archive != nil {
		encoded, err := json.Marshal(summary)
		if err == nil {
			err = in.archive.SaveSummary(ctx, key, partID, encoded)
		}
		if err != nil {
			log.Printf("ingest: archive summary entity=%s err=%v", key, err)
		}
	}
	if in.feed != nil {
		in.feed.BroadcastSummary(key, partID, summary)
	}
}

// InitialStateImport seeds one entity from a bulk export: a flat change
// list still tagged per participant, plus the anchor part id later
// publishes address.
type InitialStateImport struct {
	ConversationID   string                 `json:"conversationId"`
	MessageID        string                 `json:"messageId"`
	ResponseToNodeID string                 `json:"responseToNodeId"`
	PartID           string                 `json:"partId"`
	Changes          []crdt.TaggedOperation `json:"changes"`
}

// ImportInitialState writes fresh records for each import. Entities that
// already have a record are skipped: redelivered imports must not clobber
// responses accumulated since the first delivery.
func (in *Ingestor) ImportInitialState(ctx context.Context, imports []InitialStateImport) error {
	for _, item := range imports {
		key := store.EntityKey{
			ConversationID: item.ConversationID,
			MessageID:      responses.ToUUID(item.MessageID),
			NodeID:         responses.ToUUID(item.ResponseToNodeID),
		}
		rec := &store.EntityRecord{
			InitialPartID: item.PartID,
			Responses:     crdt.GroupBySender(item.Changes),
		}

		err := in.ledger.Put(ctx, key, rec)
		if errors.Is(err, store.ErrEntityExists) {
			log.Printf("ingest: initial state for %s already present, skipping", key)
			continue
		}
		if err != nil {
			return fmt.Errorf("import initial state for %s: %w", key, err)
		}

		if in.archive != nil {
			if err := in.archive.RecordImport(ctx, key, item.PartID); err != nil {
				log.Printf("ingest: record import entity=%s err=%v", key, err)
			}
		}
	}
	return nil
}

// Summary rebuilds the current summary for one entity. Concurrent readers
// of the same entity collapse onto a single store roundtrip.
func (in *Ingestor) Summary(ctx context.Context, key store.EntityKey) (crdt.Summary, error) {
	v, err, _ := in.sf.Do(key.String(), func() (interface{}, error) {
		// 合并读的结果归全体等待者所有，不随发起者的取消而失败
		rec, err := in.ledger.Get(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		return crdt.ToResponseSummary(rec.Responses)
	})
	if err != nil {
		return nil, err
	}
	summary, ok := v.(crdt.Summary)
	if !ok {
		return nil, errors.New("internal type error")
	}
	return summary, nil
}
