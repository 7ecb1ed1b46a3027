package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h *Hub
}

func NewManager(h *Hub) *Manager {
	return &Manager{h: h}
}

// FeedConnect upgrades the request and serves the summary feed. An
// initial subscription may ride in on query params; more can follow as
// subscribe messages.
func (m *Manager) FeedConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("feed: websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	fc := NewConn(conn, m.h)
	if messageID := c.Query("messageId"); messageID != "" {
		fc.subscribe(entityRoom(messageID, c.Query("nodeId")))
	}

	go fc.writeLoop()
	fc.readLoop()
}
