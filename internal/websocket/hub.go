// Package websocket streams live events to an owner's connected dashboards.
package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tariel-x/apppush/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 70 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 32
)

type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	ownerID   string
	closeOnce sync.Once
}

func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub tracks feed connections per owner. An owner may have several
// dashboards open at once.
type Hub struct {
	mu     sync.Mutex
	owners map[string]map[*Client]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		owners: make(map[string]map[*Client]struct{}),
		logger: logger.With("component", "feed"),
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.owners[client.ownerID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.owners[client.ownerID] = clients
	}
	clients[client] = struct{}{}
	metrics.FeedClients.Inc()
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.owners[client.ownerID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	client.closeSend()
	metrics.FeedClients.Dec()
	if len(clients) == 0 {
		delete(h.owners, client.ownerID)
	}
}

// Clients reports how many feed connections ownerID has open.
func (h *Hub) Clients(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owners[ownerID])
}

// Publish sends one event to every connection of ownerID and returns how
// many accepted it. A client whose buffer is full is disconnected.
func (h *Hub) Publish(ownerID, msgType string, data any) int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.owners[ownerID]))
	for client := range h.owners[ownerID] {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	if len(clients) == 0 {
		return 0
	}

	msg, err := EncodeMessage(msgType, data)
	if err != nil {
		h.logger.Error("Failed to encode feed message", "type", msgType, "error", err)
		return 0
	}

	sent := 0
	for _, client := range clients {
		if !client.trySend(msg) {
			h.logger.Debug("Feed client too slow, closing", "owner_id", ownerID)
			_ = client.conn.Close()
			continue
		}
		sent++
	}
	return sent
}

// Serve registers conn for ownerID and blocks until the connection drops.
func (h *Hub) Serve(conn *websocket.Conn, ownerID string) {
	client := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		ownerID: ownerID,
	}
	h.add(client)
	h.logger.Debug("Feed connected", "owner_id", ownerID)

	go h.writePump(client)
	h.readPump(client)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, clients := range h.owners {
		for client := range clients {
			all = append(all, client)
		}
	}
	h.mu.Unlock()

	for _, client := range all {
		_ = client.conn.Close()
	}
}

// readPump only keeps the connection alive; the feed is one-way.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.logger.Debug("Feed disconnected", "owner_id", client.ownerID)
		_ = client.conn.Close()
		h.remove(client)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
