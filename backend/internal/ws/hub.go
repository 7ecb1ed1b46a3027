package ws

import (
	"sync"

	"github.com/medicinisto/message-responses-integration/backend/internal/crdt"
	"github.com/medicinisto/message-responses-integration/backend/internal/store"
)

// Hub fans freshly published summaries out to feed subscribers.
// Rooms are keyed by entity (message:node); a room holds connections, not
// user ids, since one consumer may hold several connections.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(entity string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[entity] == nil {
		h.rooms[entity] = make(map[*Conn]struct{})
	}
	h.rooms[entity][c] = struct{}{}
}

func (h *Hub) Leave(entity string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[entity]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, entity)
		}
	}
}

// BroadcastSummary satisfies the ingest feed contract.
func (h *Hub) BroadcastSummary(key store.EntityKey, partID string, summary crdt.Summary) {
	// 持锁期间拷贝房间成员，断连方随后改 map 不影响本次迭代
	h.mu.RLock()
	room := h.rooms[key.String()]
	conns := make([]*Conn, 0, len(room))
	for c := range room {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	msg := ServerMessage{
		Type:      "summary",
		MessageID: key.MessageID,
		NodeID:    key.NodeOrRoot(),
		PartID:    partID,
		Summary:   summary,
	}
	for _, c := range conns {
		c.Enqueue(msg)
	}
}
