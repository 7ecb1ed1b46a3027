package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type Conn struct {
	ws  *websocket.Conn
	hub *Hub
	// send 是写 goroutine 的队列；满了就丢（feed 不要求每帧必达，
	// 订阅者总会收到下一次发布的完整 summary）
	send chan ServerMessage

	// mu 序列化 Enqueue 与 shutdown：广播方可能在断连后还持有本连接的
	// 引用，不能向已关闭的 channel 发送
	mu     sync.Mutex
	closed bool

	// entities this connection subscribed to
	entities map[string]struct{}
}

func NewConn(ws *websocket.Conn, hub *Hub) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		send:     make(chan ServerMessage, 32),
		entities: make(map[string]struct{}),
	}
}

func (c *Conn) Enqueue(msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// 队列满，丢弃本帧
	}
}

// shutdown leaves every room and closes the send queue exactly once.
// Closing happens under mu, after which Enqueue sees closed and drops.
func (c *Conn) shutdown() {
	for entity := range c.entities {
		c.hub.Leave(entity, c)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) subscribe(entity string) {
	if _, ok := c.entities[entity]; ok {
		return
	}
	c.entities[entity] = struct{}{}
	c.hub.Join(entity, c)
}

func (c *Conn) unsubscribe(entity string) {
	if _, ok := c.entities[entity]; !ok {
		return
	}
	delete(c.entities, entity)
	c.hub.Leave(entity, c)
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.MessageID == "" {
			c.Enqueue(ServerMessage{Type: "error", Content: "missing messageId"})
			continue
		}
		entity := entityRoom(msg.MessageID, msg.NodeID)
		switch msg.Type {
		case "subscribe":
			c.subscribe(entity)
		case "unsubscribe":
			c.unsubscribe(entity)
		}
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("feed: write error: %v", err)
			break
		}
	}
	c.ws.Close()
}

func entityRoom(messageID, nodeID string) string {
	if nodeID == "" {
		nodeID = "root"
	}
	return messageID + ":" + nodeID
}
