package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dashboards
	},
}

const (
	writeWait = 5 * time.Second
	// sendBuffer is the number of messages queued per client before the
	// client is considered too slow and dropped.
	sendBuffer = 64
)

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsClient is one connection and its outgoing queue. Only the client's
// writer goroutine writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]*wsClient
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *log.Logger) *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]*wsClient),
		logger:  logger,
	}
}

// AddClient registers a new WebSocket connection and starts its writer.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[conn] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "remote", conn.RemoteAddr(), "clients", n)
	go h.writeLoop(c)
}

// writeLoop drains the client's queue. When the queue is closed it sends a
// close frame and closes the connection.
func (h *WSHub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn("websocket write", "remote", c.conn.RemoteAddr(), "err", err)
			h.RemoveClient(c.conn)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
}

// RemoveClient unregisters a connection. Its writer closes it.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("websocket client disconnected", "remote", conn.RemoteAddr(), "clients", n)
	}
}

// Count returns the number of connected clients.
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every connected client and never blocks.
// Clients whose queue is full are dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket marshal", "type", msg.Type, "err", err)
		return
	}

	h.mu.RLock()
	var slow []*websocket.Conn
	for conn, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.logger.Warn("websocket client too slow, dropping", "remote", conn.RemoteAddr())
		h.RemoveClient(conn)
	}
}

// CloseAll disconnects every client.
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		close(c.send)
		delete(h.clients, conn)
	}
}
