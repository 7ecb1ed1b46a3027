package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
)

var (
	ErrNotFound = errors.New("ENTITY_NOT_FOUND")
	// ErrEntityExists: a bulk import targeted an entity that already has a
	// record. Callers treat this as a benign no-op so redelivered imports
	// do not clobber accumulated responses.
	ErrEntityExists = errors.New("ENTITY_EXISTS")
)

// EntityKey identifies the conversational object participants respond to.
// Storage is keyed by message+node; the conversation id rides along for
// publish addressing.
type EntityKey struct {
	ConversationID string
	MessageID      string
	NodeID         string
}

// NodeOrRoot is the node id with the top-level fallback applied.
func (k EntityKey) NodeOrRoot() string {
	if k.NodeID == "" {
		return "root"
	}
	return k.NodeID
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s:%s", k.MessageID, k.NodeOrRoot())
}

// EntityRecord is the persisted per-entity state: every participant's raw
// ordered operation log, plus the anchor part id when the record was
// seeded by a bulk import. The log is the source of truth; resolved
// summaries are always rebuilt from it.
type EntityRecord struct {
	InitialPartID string
	Responses     map[string][]crdt.Operation
}

// LedgerStore is the append/merge contract against the backing key-value
// store. UpdateAppend must be atomic per key: two racing submissions for
// the same entity both land, in some order, with nothing dropped.
type LedgerStore interface {
	// Get returns the record for the key, or ErrNotFound.
	Get(ctx context.Context, key EntityKey) (*EntityRecord, error)

	// Put writes a fresh record (bulk import path). Returns
	// ErrEntityExists without touching anything when the entity already
	// has a record.
	Put(ctx context.Context, key EntityKey, rec *EntityRecord) error

	// UpdateAppend concatenates ops onto the sender's existing log,
	// creating it when absent, and returns the merged record.
	UpdateAppend(ctx context.Context, key EntityKey, senderID string, ops []crdt.Operation) (*EntityRecord, error)
}
