package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"pixdesk/internal/intake"
)

type Client struct {
	conn    *websocket.Conn
	ownerID string
	mu      sync.Mutex
}

// Hub fans intake notices out to connected websocket clients. A client
// subscribed with an owner ID receives only that owner's notices; a client
// with no owner ID (review console) receives everything.
type Hub struct {
	clients    map[*Client]bool
	notices    chan ownerNotice
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type ownerNotice struct {
	OwnerID string        `json:"owner_id"`
	Notice  intake.Notice `json:"notice"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		notices:    make(chan ownerNotice, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (Total: %d)", client.ownerID, len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.ownerID, len(h.clients))
			}
			h.mu.Unlock()

		case n := <-h.notices:
			jsonMessage, err := json.Marshal(n)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if client.ownerID == "" || client.ownerID == n.OwnerID {
					go client.send(jsonMessage) // Non-blocking send
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Notify implements intake.Notifier.
func (h *Hub) Notify(ownerID string, notice intake.Notice) {
	select {
	case h.notices <- ownerNotice{OwnerID: ownerID, Notice: notice}:
	default:
		log.Println("[WS] Notice channel full, dropping message")
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(message interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	var err error

	switch v := message.(type) {
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			log.Printf("[WS] Send marshal error: %v", err)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WS] Write error for owner %s: %v", c.ownerID, err)
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, ownerID string) {
	client := &Client{
		conn:    conn,
		ownerID: ownerID,
	}
	h.register <- client
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			h.unregister <- client
			return
		}
	}
	h.mu.RUnlock()
}
