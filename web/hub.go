package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"obuoy/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer
	maxMessageSize = 512

	sendChannelSize = 64
)

// Live message types
const (
	MessageTypeObservation = "observation"
)

// LiveMessage is one server-push update
type LiveMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// liveClient is a single connected page
type liveClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the open live-update connections and broadcasts to them
type Hub struct {
	clients    map[*liveClient]bool
	broadcast  chan []byte
	register   chan *liveClient
	unregister chan *liveClient
	mu         sync.RWMutex
	logger     *zap.SugaredLogger
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	startOnce  sync.Once
}

// NewHub creates a hub. Start must be called before clients connect.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*liveClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		logger:     logger,
		// A nil CheckOrigin rejects cross-origin upgrades
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    hubCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start runs the hub loop in a goroutine
func (h *Hub) Start() {
	h.startOnce.Do(func() { go h.run() })
}

func (h *Hub) run() {
	defer close(h.done)
	h.logger.Info("Live update hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = make(map[*liveClient]bool)
			h.mu.Unlock()
			metrics.LiveClients.Set(0)
			h.logger.Info("Live update hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.LiveClients.Set(float64(total))
			h.logger.Debugw("Live client connected", "client_id", c.id, "total_clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.LiveClients.Set(float64(total))
			h.logger.Debugw("Live client disconnected", "client_id", c.id, "total_clients", total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client, drop it rather than block everyone
					delete(h.clients, c)
					close(c.send)
					c.conn.Close()
				}
			}
			metrics.LiveClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to every connected page. It never blocks longer
// than a second; a dropped update is logged.
func (h *Hub) Broadcast(msgType string, data interface{}) error {
	payload, err := json.Marshal(LiveMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal live message", "type", msgType, "error", err)
		return err
	}

	select {
	case h.broadcast <- payload:
		return nil
	case <-h.ctx.Done():
		return nil
	case <-time.After(time.Second):
		h.logger.Warnw("Live broadcast timeout", "type", msgType)
		return nil
	}
}

// ClientCount returns the number of connected pages
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every connection and waits for the hub loop to exit
func (h *Hub) Stop() {
	h.cancel()
	// Never started: there is no loop to wait for
	h.startOnce.Do(func() { close(h.done) })
	<-h.done
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("Live upgrade failed", "request_id", GetRequestID(r.Context()), "error", err)
		return
	}

	c := &liveClient{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only watches for disconnects; pages never send data
func (c *liveClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Live connection closed unexpectedly", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive with pings
func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Coalesce queued messages into one frame, newline separated
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
