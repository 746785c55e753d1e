package services

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one connected dashboard observer, subscribed to a single call.
type Client struct {
	ID     string
	Conn   *websocket.Conn
	CallID string
	Send   chan []byte
	Hub    *Hub
}

// Hub fans live transcript updates out to dashboard observers. It is the
// staff-facing side of the line: the call itself never flows through here.
type Hub struct {
	clients     map[*Client]bool
	callClients map[string][]*Client

	Register   chan *Client
	Unregister chan *Client

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a hub. Run must be started on its own goroutine.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		callClients: make(map[string][]*Client),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		log:         log,
	}
}

// Run processes register/unregister requests until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			if client.CallID != "" {
				h.callClients[client.CallID] = append(h.callClients[client.CallID], client)
			}
			h.mu.Unlock()
		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				if client.CallID != "" {
					clients := h.callClients[client.CallID]
					for i, c := range clients {
						if c == client {
							h.callClients[client.CallID] = append(clients[:i], clients[i+1:]...)
							break
						}
					}
					if len(h.callClients[client.CallID]) == 0 {
						delete(h.callClients, client.CallID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to every observer subscribed to callID.
func (h *Hub) Broadcast(callID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("marshaling broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.callClients[callID] {
		select {
		case client.Send <- data:
		default:
			// Slow observer. Drop the update rather than block the call path;
			// the client is removed for good when its reader sees the close.
			h.log.Warn("observer send buffer full, dropping update",
				zap.String("call_id", callID))
		}
	}
}

// WritePump pumps messages from the hub to the observer's connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
