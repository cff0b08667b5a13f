package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Per-client outbound queue size
	clientQueueSize = 64
)

// Message represents a real-time message sent to clients
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Hub maintains the set of active clients and fans broadcast messages out to
// them. A slow client never blocks the hub or its peers: when a client's
// queue is full the oldest queued message is dropped and counted, and the
// connection stays up.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	mutex      sync.RWMutex

	onClientCount func(n int)
	onDropped     func()
	onSent        func()
}

// Client represents a WebSocket client connection
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Int64
	logger  logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// SetHooks registers metrics callbacks. All are optional.
func (h *Hub) SetHooks(onClientCount func(n int), onSent, onDropped func()) {
	h.onClientCount = onClientCount
	h.onSent = onSent
	h.onDropped = onDropped
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.notifyClientCount(count)
			h.logger.WithFields(logging.Fields{
				"client_id":    client.id,
				"client_count": count,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.notifyClientCount(count)
			h.logger.WithFields(logging.Fields{
				"client_id":    client.id,
				"dropped":      client.dropped.Load(),
				"client_count": count,
			}).Info("Client disconnected")

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// fanOut enqueues a message for every connected client. Full queues shed
// their oldest entry so the newest data always gets through eventually.
func (h *Hub) fanOut(message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		client.enqueue(message)
		if h.onSent != nil {
			h.onSent()
		}
	}
}

func (c *Client) enqueue(message []byte) {
	for {
		select {
		case c.send <- message:
			return
		default:
		}
		// Queue full: evict the oldest message and retry
		select {
		case <-c.send:
			c.dropped.Add(1)
			if c.hub.onDropped != nil {
				c.hub.onDropped()
			}
		default:
		}
	}
}

// Dropped reports how many messages were shed for this client
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// BroadcastEvent sends an event to all connected clients
func (h *Hub) BroadcastEvent(eventType string, data map[string]interface{}) {
	message := Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- messageBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var dropped int64
	for client := range h.clients {
		dropped += client.dropped.Load()
	}

	return map[string]interface{}{
		"total_clients":    len(h.clients),
		"dropped_messages": dropped,
	}
}

func (h *Hub) notifyClientCount(n int) {
	if h.onClientCount != nil {
		h.onClientCount(n)
	}
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		id:     uuid.New().String()[:8],
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientQueueSize),
		logger: h.logger,
	}

	client.hub.register <- client

	client.sendMessage(map[string]interface{}{
		"type":      "connection_confirmed",
		"client_id": client.id,
		"timestamp": time.Now().UTC(),
	})

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the WebSocket connection to the hub. Clients
// do not speak a protocol beyond pongs; inbound frames are drained and
// discarded to keep the connection healthy.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage sends a message directly to this client
func (c *Client) sendMessage(data map[string]interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}
	c.enqueue(message)
}
