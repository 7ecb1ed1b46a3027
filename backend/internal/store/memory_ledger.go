package store

import (
	"context"
	"sync"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
)

type entityState struct {
	mu  sync.Mutex
	rec EntityRecord
}

// MemoryLedger keeps every EntityRecord in process memory. The entity key
// is the unit of mutual exclusion: each key has its own mutex, so racing
// appends to the same entity serialize while different entities proceed in
// parallel.
type MemoryLedger struct {
	mu       sync.RWMutex
	entities map[string]*entityState
}

var _ LedgerStore = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entities: make(map[string]*entityState)}
}

func (m *MemoryLedger) getOrCreate(key EntityKey) *entityState {
	k := key.String()
	m.mu.RLock()
	es := m.entities[k]
	m.mu.RUnlock()
	if es != nil {
		return es
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if es = m.entities[k]; es == nil {
		es = &entityState{rec: EntityRecord{Responses: make(map[string][]crdt.Operation)}}
		m.entities[k] = es
	}
	return es
}

func (m *MemoryLedger) lookup(key EntityKey) *entityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entities[key.String()]
}

func (m *MemoryLedger) Get(ctx context.Context, key EntityKey) (*EntityRecord, error) {
	es := m.lookup(key)
	if es == nil {
		return nil, ErrNotFound
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if len(es.rec.Responses) == 0 && es.rec.InitialPartID == "" {
		return nil, ErrNotFound
	}
	return copyRecord(&es.rec), nil
}

func (m *MemoryLedger) Put(ctx context.Context, key EntityKey, rec *EntityRecord) error {
	es := m.getOrCreate(key)
	es.mu.Lock()
	defer es.mu.Unlock()
	if len(es.rec.Responses) > 0 || es.rec.InitialPartID != "" {
		return ErrEntityExists
	}
	es.rec = *copyRecord(rec)
	return nil
}

func (m *MemoryLedger) UpdateAppend(ctx context.Context, key EntityKey, senderID string, ops []crdt.Operation) (*EntityRecord, error) {
	es := m.getOrCreate(key)
	es.mu.Lock()
	defer es.mu.Unlock()
	es.rec.Responses[senderID] = append(es.rec.Responses[senderID], ops...)
	return copyRecord(&es.rec), nil
}

// copyRecord hands callers their own record so later appends cannot alias
// into a snapshot they already returned.
func copyRecord(rec *EntityRecord) *EntityRecord {
	out := &EntityRecord{
		InitialPartID: rec.InitialPartID,
		Responses:     make(map[string][]crdt.Operation, len(rec.Responses)),
	}
	for senderID, ops := range rec.Responses {
		copied := make([]crdt.Operation, len(ops))
		copy(copied, ops)
		out.Responses[senderID] = copied
	}
	return out
}
