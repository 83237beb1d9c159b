// hub.go — WebSocket 扇出中心: 会话出站消息推送到所有已连接前端。
package apiserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/session-bridge/pkg/logger"
	"github.com/multi-agent/session-bridge/pkg/util"
)

const (
	hubWriteTimeout   = 5 * time.Second
	hubSendBufferSize = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 桥接服务与前端同源部署, 不做 Origin 校验。
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub WebSocket 客户端集合与广播。
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan any
}

// NewHub 创建扇出中心。
func NewHub() *Hub {
	return &Hub{clients: make(map[*hubClient]struct{})}
}

// Broadcast 向所有客户端广播一条 JSON 消息。慢客户端丢弃消息而非阻塞。
func (h *Hub) Broadcast(message any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			logger.Warn("hub: slow client, message dropped")
		}
	}
}

// ClientCount 当前连接数。
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleUpgrade /ws 升级入口。
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("hub: ws upgrade failed", logger.FieldError, err)
		return
	}
	client := &hubClient{
		conn: conn,
		send: make(chan any, hubSendBufferSize),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	logger.Info("hub: client connected", "client_count", h.ClientCount())

	util.SafeGo(func() { h.writeLoop(client) })
	util.SafeGo(func() { h.readLoop(client) })
}

func (h *Hub) writeLoop(client *hubClient) {
	for message := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := client.conn.WriteJSON(message); err != nil {
			h.drop(client)
			return
		}
	}
}

// readLoop 只为感知断连; 前端不经 /ws 上行 (上行走 REST)。
func (h *Hub) readLoop(client *hubClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.drop(client)
			return
		}
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	if ok {
		_ = client.conn.Close()
		logger.Info("hub: client disconnected", "client_count", h.ClientCount())
	}
}
