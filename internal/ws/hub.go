package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/predictions/internal/models"
)

const writeWait = 5 * time.Second

// MarketsMessage is the full-state message sent on connect and on each
// periodic broadcast
type MarketsMessage struct {
	Type    string                  `json:"type"`
	Markets []models.MarketSnapshot `json:"markets"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans market events out to connected websocket clients
type Hub struct {
	upgrader websocket.Upgrader
	markets  func() []models.MarketSnapshot
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub. markets supplies the state sent to new clients.
func NewHub(markets func() []models.MarketSnapshot, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Origins are enforced by the CORS middleware
			},
		},
		markets: markets,
		log:     log,
		clients: make(map[*client]bool),
	}
}

// Name identifies the hub as a notification sink
func (h *Hub) Name() string { return "websocket" }

// ServeHTTP upgrades the connection, sends the current markets and keeps the
// client registered until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("failed to upgrade connection", "error", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	if err := h.sendMarkets(c); err != nil {
		h.log.Warnw("failed to send initial markets", "error", err)
	}

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// Publish sends ev to every connected client, dropping clients that fail
func (h *Hub) Publish(_ context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	h.broadcast(data)
	return nil
}

// BroadcastMarkets sends the full state of every market to all clients
func (h *Hub) BroadcastMarkets() error {
	data, err := json.Marshal(MarketsMessage{Type: "MARKETS", Markets: h.markets()})
	if err != nil {
		return fmt.Errorf("failed to marshal markets: %w", err)
	}
	h.broadcast(data)
	return nil
}

// Run broadcasts the full state every interval until ctx is done. A
// non-positive interval disables periodic broadcasts.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.BroadcastMarkets(); err != nil {
				h.log.Errorw("periodic broadcast failed", "error", err)
			}
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) sendMarkets(c *client) error {
	data, err := json.Marshal(MarketsMessage{Type: "MARKETS", Markets: h.markets()})
	if err != nil {
		return err
	}
	return c.write(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	var failed []*client
	for c := range h.clients {
		if err := c.write(data); err != nil {
			h.log.Warnw("failed to send message", "error", err)
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range failed {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		c.conn.Close()
	}
}
